package sequence

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/hatlonely/rdbx/rdb/compiler"
	"github.com/hatlonely/rdbx/rdb/cursor"
	"github.com/hatlonely/rdbx/rdb/errs"
	"github.com/hatlonely/rdbx/rdb/executor"
	"github.com/hatlonely/rdbx/rdb/query"
	"github.com/hatlonely/rdbx/rdb/reconcile"
	"github.com/hatlonely/rdbx/rdb/schema"
)

// Provider 序列生成器，NextValue 返回自增之前的值
type Provider interface {
	SequenceExists(ctx context.Context, name string) (bool, error)
	CreateSequence(ctx context.Context, name string, first int64) error
	NextValue(ctx context.Context, name string) (int64, error)
}

type DBSequenceOptions struct {
	// Table 序列表名
	Table string `cfg:"table" def:"RDB_SEQUENCE"`
}

// DBSequence 基于数据库行锁的序列，所有序列存在同一张表里，一个序列一行
// sqlite 不支持 SELECT ... FOR UPDATE，需要在 DSN 里指定 _txlock=immediate
type DBSequence struct {
	executor   *executor.Executor
	reconciler *reconcile.Reconciler

	table *schema.Table
	name  *schema.StringField
	value *schema.IntegerField

	mu      sync.Mutex
	ensured bool
}

func NewDBSequenceWithOptions(e *executor.Executor, r *reconcile.Reconciler, options *DBSequenceOptions) *DBSequence {
	tableName := "RDB_SEQUENCE"
	if options != nil && options.Table != "" {
		tableName = options.Table
	}
	name := schema.NewString("NAME", 100)
	value := schema.NewInteger("VALUE")
	return &DBSequence{
		executor:   e,
		reconciler: r,
		table:      schema.NewTable(tableName, name, value).WithIndex("UK_"+tableName+"_NAME", true, "NAME"),
		name:       name,
		value:      value,
	}
}

func (q *DBSequence) Table() *schema.Table {
	return q.table
}

// ensure 第一次使用时同步序列表
func (q *DBSequence) ensure(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ensured {
		return nil
	}
	if err := q.reconciler.Sync(ctx, q.table); err != nil {
		return err
	}
	q.ensured = true
	return nil
}

func (q *DBSequence) where(name string) query.Condition {
	return query.Eq("", q.name, name)
}

func (q *DBSequence) count(ctx context.Context, s *executor.Session, name string) (int64, error) {
	sel := &compiler.Select{
		Tables: []compiler.TableRef{{Table: q.table}},
		Where:  q.where(name),
	}
	stmt, err := sel.CompileCount()
	if err != nil {
		return 0, err
	}
	var n int64
	rows, err := s.Query(ctx, stmt)
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return 0, err
		}
	}
	return n, rows.Err()
}

func (q *DBSequence) SequenceExists(ctx context.Context, name string) (bool, error) {
	if err := q.ensure(ctx); err != nil {
		return false, err
	}
	return executor.Execute(ctx, q.executor, executor.Work[bool]{
		Name: "sequenceExists",
		Run: func(ctx context.Context, s *executor.Session) (bool, error) {
			n, err := q.count(ctx, s, name)
			return n > 0, err
		},
	})
}

// CreateSequence 创建序列，第一次 NextValue 返回 first
func (q *DBSequence) CreateSequence(ctx context.Context, name string, first int64) error {
	if err := q.ensure(ctx); err != nil {
		return err
	}
	stmt, err := compiler.Insert(q.table, schema.Row{"NAME": name, "VALUE": first})
	if err != nil {
		return err
	}
	return q.executor.Exec(ctx, "createSequence", executor.Policy{}, func(ctx context.Context, s *executor.Session) error {
		n, err := q.count(ctx, s, name)
		if err != nil {
			return err
		}
		if n > 0 {
			return errs.NewTerminal("createSequence", "", errors.Wrapf(errs.ErrSequenceExists, "sequence %s", name))
		}
		_, err = s.Exec(ctx, stmt)
		return err
	})
}

// NextValue 在事务里锁住序列行，读出当前值后加一，返回加一之前的值
func (q *DBSequence) NextValue(ctx context.Context, name string) (int64, error) {
	if err := q.ensure(ctx); err != nil {
		return 0, err
	}

	sel := &compiler.Select{
		Tables: []compiler.TableRef{{Table: q.table, Fields: []compiler.SelectField{{Field: q.value}}}},
		Where:  q.where(name),
	}
	stmt, err := sel.Compile()
	if err != nil {
		return 0, err
	}
	stmt.SQL += q.executor.Dialect().ForUpdate()

	return executor.Execute(ctx, q.executor, executor.Work[int64]{
		Name:   "nextValue",
		Query:  stmt.SQL,
		Policy: executor.Policy{ForceAutoCommit: true, RequiresRollback: true},
		Run: func(ctx context.Context, s *executor.Session) (value int64, err error) {
			prev := s.AutoCommit()
			if err := s.SetAutoCommit(false); err != nil {
				return 0, err
			}
			defer func() {
				if err != nil {
					_ = s.Rollback()
				}
				if serr := s.SetAutoCommit(prev); serr != nil && err == nil {
					err = serr
				}
			}()

			value, found, err := q.current(ctx, s, stmt)
			if err != nil {
				return 0, err
			}
			if !found {
				return 0, errs.NewTerminal("nextValue", stmt.SQL, errors.Wrapf(errs.ErrSequenceNotFound, "sequence %s", name))
			}

			update, err := compiler.Update(q.table, []schema.Field{q.value}, schema.Row{"VALUE": value + 1}, q.where(name))
			if err != nil {
				return 0, err
			}
			if _, err := s.Exec(ctx, update); err != nil {
				return 0, err
			}
			if err := s.Commit(); err != nil {
				return 0, err
			}
			return value, nil
		},
	})
}

func (q *DBSequence) current(ctx context.Context, s *executor.Session, stmt compiler.Statement) (int64, bool, error) {
	rows, err := s.Query(ctx, stmt)
	if err != nil {
		return 0, false, err
	}
	c, err := cursor.New(rows)
	if err != nil {
		return 0, false, err
	}
	defer c.Close()

	if !c.Next() {
		return 0, false, c.Err()
	}
	v, err := c.Value(q.table.Name, q.value)
	if err != nil {
		return 0, false, err
	}
	n, ok := v.(int64)
	if !ok {
		return 0, false, errs.NewModel(q.table.Name, q.value.Name(), nil, "unexpected sequence value %v", v)
	}
	return n, true, nil
}
