package database

import (
	"context"
	"database/sql"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"

	"github.com/hatlonely/rdbx/cfg"
	"github.com/hatlonely/rdbx/log"
	"github.com/hatlonely/rdbx/log/logger"
	"github.com/hatlonely/rdbx/rdb/compiler"
	"github.com/hatlonely/rdbx/rdb/cursor"
	"github.com/hatlonely/rdbx/rdb/dialect"
	"github.com/hatlonely/rdbx/rdb/executor"
	"github.com/hatlonely/rdbx/rdb/query"
	"github.com/hatlonely/rdbx/rdb/reconcile"
	"github.com/hatlonely/rdbx/rdb/schema"
	"github.com/hatlonely/rdbx/rdb/sequence"
)

type SQLOptions struct {
	// Driver 方言名：mysql, sqlite3, postgres (pgx), pq (lib/pq)
	Driver   string `cfg:"driver" def:"mysql" validate:"oneof=mysql sqlite3 postgres pq"`
	DSN      string `cfg:"dsn"`
	Host     string `cfg:"host" def:"localhost"`
	Port     string `cfg:"port"`
	Database string `cfg:"database"`
	Username string `cfg:"username"`
	Password string `cfg:"password"`
	Charset  string `cfg:"charset" def:"utf8mb4"`

	MaxConns        int           `cfg:"maxConns" def:"10" validate:"min=0"`
	MaxIdle         int           `cfg:"maxIdle" def:"5" validate:"min=0"`
	ConnMaxLifetime time.Duration `cfg:"connMaxLifetime" def:"0"`

	// BatchSize MassiveInsert 每条语句的最大行数
	BatchSize int `cfg:"batchSize" def:"500" validate:"min=0"`

	Executor executor.Options `cfg:"executor"`

	// Cache 为空时元数据缓存使用进程内 map
	Cache *reconcile.FreeCacheOptions `cfg:"cache"`

	Sequence sequence.DBSequenceOptions `cfg:"sequence"`
	// Redis 不为空时序列使用 redis
	Redis *sequence.RedisSequenceOptions `cfg:"redis"`

	Logger *logger.SLogOptions `cfg:"logger"`
}

// SQL 关系数据库的访问入口
// 所有语句都经过重试执行器，同一个 SQL 对象上的执行单元串行执行
type SQL struct {
	db         *sql.DB
	dialect    dialect.Dialect
	executor   *executor.Executor
	reconciler *reconcile.Reconciler
	sequence   sequence.Provider
	logger     logger.Logger
	batchSize  int
}

func NewSQLWithOptions(options *SQLOptions) (*SQL, error) {
	if options == nil {
		return nil, errors.New("options cannot be nil")
	}
	o := *options
	if err := cfg.SetDefaults(&o); err != nil {
		return nil, errors.WithMessage(err, "set defaults failed")
	}
	if err := cfg.Validate(&o); err != nil {
		return nil, errors.WithMessage(err, "invalid options")
	}
	options = &o

	d, err := dialect.Get(options.Driver)
	if err != nil {
		return nil, err
	}

	dsn, err := BuildDSN(options)
	if err != nil {
		return nil, err
	}

	l, err := log.NewLoggerWithOptions(options.Logger)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to create logger")
	}
	l = l.With("driver", options.Driver)

	db, err := sql.Open(d.DriverName(), dsn)
	if err != nil {
		return nil, errors.Wrap(err, "sql.Open failed")
	}
	db.SetMaxOpenConns(options.MaxConns)
	db.SetMaxIdleConns(options.MaxIdle)
	db.SetConnMaxLifetime(options.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "ping failed")
	}

	e, err := executor.New(executor.NewDBGateway(db), d, &options.Executor, executor.WithLogger(l))
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	var cache reconcile.MetadataCache
	if options.Cache != nil {
		cache = reconcile.NewFreeCacheWithOptions(options.Cache)
	}
	r := reconcile.New(e, cache)

	var seq sequence.Provider
	if options.Redis != nil {
		seq, err = sequence.NewRedisSequenceWithOptions(options.Redis)
		if err != nil {
			_ = e.Close()
			_ = db.Close()
			return nil, err
		}
	} else {
		seq = sequence.NewDBSequenceWithOptions(e, r, &options.Sequence)
	}

	batchSize := options.BatchSize
	if batchSize <= 0 {
		batchSize = 500
	}

	return &SQL{
		db:         db,
		dialect:    d,
		executor:   e,
		reconciler: r,
		sequence:   seq,
		logger:     l.WithGroup("sql"),
		batchSize:  batchSize,
	}, nil
}

// BuildDSN DSN 为空时按驱动拼接
func BuildDSN(options *SQLOptions) (string, error) {
	if options.DSN != "" {
		return options.DSN, nil
	}
	switch options.Driver {
	case "mysql":
		cfg := mysql.NewConfig()
		cfg.User = options.Username
		cfg.Passwd = options.Password
		cfg.Net = "tcp"
		cfg.Addr = net.JoinHostPort(options.Host, portOr(options.Port, "3306"))
		cfg.DBName = options.Database
		cfg.ParseTime = true
		cfg.Loc = time.UTC
		if options.Charset != "" {
			cfg.Params = map[string]string{"charset": options.Charset}
		}
		return cfg.FormatDSN(), nil
	case "sqlite3":
		// sqlite 没有行锁，写事务在开始时就拿写锁，WAL 模式下游标读取不阻塞写入
		if strings.Contains(options.Database, "?") {
			return options.Database, nil
		}
		return options.Database + "?_txlock=immediate&_busy_timeout=5000&_journal_mode=WAL", nil
	case "postgres", "pq":
		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(options.Username, options.Password),
			Host:     net.JoinHostPort(options.Host, portOr(options.Port, "5432")),
			Path:     "/" + options.Database,
			RawQuery: "sslmode=disable",
		}
		return u.String(), nil
	}
	return "", errors.Errorf("unsupported driver: %s", options.Driver)
}

func portOr(port string, def string) string {
	if port == "" {
		return def
	}
	return port
}

func (s *SQL) DB() *sql.DB                       { return s.db }
func (s *SQL) Dialect() dialect.Dialect          { return s.dialect }
func (s *SQL) Executor() *executor.Executor      { return s.executor }
func (s *SQL) Reconciler() *reconcile.Reconciler { return s.reconciler }
func (s *SQL) Sequence() sequence.Provider       { return s.sequence }

// Migrate 同步表结构，遇到不兼容的字段立即返回
func (s *SQL) Migrate(ctx context.Context, tables ...*schema.Table) error {
	for _, t := range tables {
		if err := s.reconciler.Sync(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQL) Insert(ctx context.Context, t *schema.Table, row schema.Row) error {
	stmt, err := compiler.Insert(t, row)
	if err != nil {
		return err
	}
	_, err = executor.Execute(ctx, s.executor, executor.Work[int64]{
		Name:  "insert",
		Query: stmt.SQL,
		Run: func(ctx context.Context, es *executor.Session) (int64, error) {
			return exec(ctx, es, stmt)
		},
	})
	return err
}

// Update 更新满足条件的行，返回影响行数
func (s *SQL) Update(ctx context.Context, t *schema.Table, fields []schema.Field, row schema.Row, where query.Condition) (int64, error) {
	stmt, err := compiler.Update(t, fields, row, where)
	if err != nil {
		return 0, err
	}
	return executor.Execute(ctx, s.executor, executor.Work[int64]{
		Name:  "update",
		Query: stmt.SQL,
		Run: func(ctx context.Context, es *executor.Session) (int64, error) {
			return exec(ctx, es, stmt)
		},
	})
}

func (s *SQL) Delete(ctx context.Context, t *schema.Table, where query.Condition) (int64, error) {
	stmt, err := compiler.Delete(t, where)
	if err != nil {
		return 0, err
	}
	return executor.Execute(ctx, s.executor, executor.Work[int64]{
		Name:  "delete",
		Query: stmt.SQL,
		Run: func(ctx context.Context, es *executor.Session) (int64, error) {
			return exec(ctx, es, stmt)
		},
	})
}

// MassiveInsert 按 BatchSize 分批的多行插入，全部在一个事务里，要么全部成功要么全部失败
func (s *SQL) MassiveInsert(ctx context.Context, t *schema.Table, rows []schema.Row) error {
	stmts, err := compiler.MassiveInsert(t, rows, s.batchSize)
	if err != nil || len(stmts) == 0 {
		return err
	}
	_, err = inTx(ctx, s.executor, "massiveInsert", stmts[0].SQL, func(ctx context.Context, es *executor.Session) (int64, error) {
		var total int64
		for _, stmt := range stmts {
			n, err := exec(ctx, es, stmt)
			if err != nil {
				return 0, err
			}
			total += n
		}
		return total, nil
	})
	return err
}

// MassiveUpdate 按 keys 定位每一行，更新其余的存储字段，同样的语句只预编译一次
func (s *SQL) MassiveUpdate(ctx context.Context, t *schema.Table, keys []schema.Field, rows []schema.Row) (int64, error) {
	stmts, err := massiveUpdate(t, keys, rows)
	if err != nil || len(stmts) == 0 {
		return 0, err
	}
	return inTx(ctx, s.executor, "massiveUpdate", stmts[0].SQL, func(ctx context.Context, es *executor.Session) (int64, error) {
		return execPrepared(ctx, es, stmts)
	})
}

// MassiveDelete 按 keys 删除每一行
func (s *SQL) MassiveDelete(ctx context.Context, t *schema.Table, keys []schema.Field, rows []schema.Row) (int64, error) {
	stmts, err := massiveDelete(t, keys, rows)
	if err != nil || len(stmts) == 0 {
		return 0, err
	}
	return inTx(ctx, s.executor, "massiveDelete", stmts[0].SQL, func(ctx context.Context, es *executor.Session) (int64, error) {
		return execPrepared(ctx, es, stmts)
	})
}

// Select 返回游标，游标在独立的连接上读取，读完或 Close 时归还连接
// 游标打开期间可以继续在同一个 SQL 对象上执行其他语句
func (s *SQL) Select(ctx context.Context, sel *compiler.Select) (*cursor.Cursor, error) {
	stmt, err := sel.Compile()
	if err != nil {
		return nil, err
	}
	rows, release, err := executor.ExecuteDetached(ctx, s.executor, executor.Work[*sql.Rows]{
		Name:  "select",
		Query: stmt.SQL,
		Run: func(ctx context.Context, es *executor.Session) (*sql.Rows, error) {
			return es.Query(ctx, stmt)
		},
	})
	if err != nil {
		return nil, err
	}
	return cursor.New(rows, cursor.WithOnClose(func() {
		if err := release(); err != nil {
			s.logger.Warn("release cursor connection failed", "error", err.Error())
		}
	}))
}

// Rows 在一个执行单元里读出 alias 表的全部结果行，重试时重新读取
func (s *SQL) Rows(ctx context.Context, sel *compiler.Select, t *schema.Table, alias string) ([]schema.Row, error) {
	stmt, err := sel.Compile()
	if err != nil {
		return nil, err
	}
	return executor.Execute(ctx, s.executor, executor.Work[[]schema.Row]{
		Name:  "rows",
		Query: stmt.SQL,
		Run: func(ctx context.Context, es *executor.Session) ([]schema.Row, error) {
			return collect(ctx, es, stmt, t, alias)
		},
	})
}

// Get 按条件读取一行，没有结果时返回 errs.ErrRecordNotFound
func (s *SQL) Get(ctx context.Context, t *schema.Table, where query.Condition) (schema.Row, error) {
	sel := &compiler.Select{
		Tables: []compiler.TableRef{{Table: t, AllFields: true}},
		Where:  where,
		Limit:  1,
	}
	rows, err := s.Rows(ctx, sel, t, "")
	if err != nil {
		return nil, err
	}
	return first(t, rows)
}

func (s *SQL) Count(ctx context.Context, sel *compiler.Select) (int64, error) {
	stmt, err := sel.CompileCount()
	if err != nil {
		return 0, err
	}
	return executor.Execute(ctx, s.executor, executor.Work[int64]{
		Name:  "count",
		Query: stmt.SQL,
		Run: func(ctx context.Context, es *executor.Session) (int64, error) {
			return count(ctx, es, stmt)
		},
	})
}

// WithTx 在一个事务里执行 fn，fn 返回错误时回滚
// 遇到瞬时错误整个事务会重放，fn 必须可以安全地重复执行
func (s *SQL) WithTx(ctx context.Context, fn func(ctx context.Context, tx *Tx) error) error {
	_, err := inTx(ctx, s.executor, "withTx", "", func(ctx context.Context, es *executor.Session) (struct{}, error) {
		return struct{}{}, fn(ctx, &Tx{session: es, batchSize: s.batchSize})
	})
	return err
}

func (s *SQL) Close() error {
	var msgs []string
	if c, ok := s.sequence.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil {
			msgs = append(msgs, err.Error())
		}
	}
	if err := s.executor.Close(); err != nil {
		msgs = append(msgs, err.Error())
	}
	if err := s.db.Close(); err != nil {
		msgs = append(msgs, err.Error())
	}
	if len(msgs) > 0 {
		return errors.Errorf("close failed: %s", strings.Join(msgs, "; "))
	}
	return nil
}
