package dialect

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"io"
	"net"
	"sort"
	"strings"
	"sync"
	"syscall"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/hatlonely/rdbx/rdb/schema"
)

// Querier 读元数据需要的最小接口，executor.Session 和 *sql.DB 都满足
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// TypeNames 兼容性检查时期望的数据库类型名（元数据里报告的名字，大写）
type TypeNames struct {
	String    string
	Timestamp string
	Decimal   string
	Integer   string
	Binary    string
}

// Column 数据库元数据里的一列
type Column struct {
	Name     string
	TypeName string
	Length   int64
	Scale    int64
	// Default 为 nil 表示没有默认值
	Default *string
	// Raw 完整的类型声明，例如 VARCHAR(40)
	Raw string
}

// IndexInfo 数据库里的一个索引
type IndexInfo struct {
	Name    string
	Columns []string
	Unique  bool
}

// Dialect 数据库方言
// 提供字段到列定义的映射、兼容性检查需要的类型名、元数据读取以及错误分类
type Dialect interface {
	Name() string
	DriverName() string

	TypeNames() TypeNames
	// QuotedDefaults 元数据里字符串默认值是否带引号
	QuotedDefaults() bool
	QuoteString(s string) string

	ColumnType(f schema.Field) (string, error)
	ColumnDefinition(f schema.Field) (string, error)
	// ExtendColumn 扩展列长度/精度的语句，live 是当前表的全部列
	ExtendColumn(t *schema.Table, f schema.Field, live []Column) ([]string, error)
	DropIndex(table string, name string) string
	// ForUpdate 行锁子句，不支持的数据库返回空串
	ForUpdate() string
	// Rebind 把 ? 占位符转换为数据库的占位符
	Rebind(query string) string

	TableExists(ctx context.Context, q Querier, table string) (bool, error)
	Columns(ctx context.Context, q Querier, table string) ([]Column, error)
	Indexes(ctx context.Context, q Querier, table string) ([]IndexInfo, error)

	// IsTransient 是否是可重试的瞬时错误
	IsTransient(err error) bool
}

var (
	mu       sync.RWMutex
	dialects = map[string]Dialect{}
)

// Register 注册方言，同名覆盖
func Register(name string, d Dialect) {
	mu.Lock()
	defer mu.Unlock()
	dialects[name] = d
}

// Get 按名称获取方言
func Get(name string) (Dialect, error) {
	mu.RLock()
	defer mu.RUnlock()
	d, ok := dialects[name]
	if !ok {
		return nil, errors.Errorf("unsupported dialect: %s", name)
	}
	return d, nil
}

// Names 已注册的方言名
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(dialects))
	for name := range dialects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// base 各方言共用的实现
type base struct {
	name       string
	driverName string
	typeNames  TypeNames
	quoted     bool
	forUpdate  string
	types      typeRenderer
}

func (b *base) Name() string         { return b.name }
func (b *base) DriverName() string   { return b.driverName }
func (b *base) TypeNames() TypeNames { return b.typeNames }
func (b *base) QuotedDefaults() bool { return b.quoted }
func (b *base) ForUpdate() string    { return b.forUpdate }

func (b *base) QuoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func (b *base) Rebind(query string) string {
	return sqlx.Rebind(sqlx.BindType(b.driverName), query)
}

func (b *base) ColumnType(f schema.Field) (string, error) {
	v := &columnTypeVisitor{render: b.types}
	if err := f.Accept(v); err != nil {
		return "", err
	}
	return v.sql, nil
}

func (b *base) ColumnDefinition(f schema.Field) (string, error) {
	typ, err := b.ColumnType(f)
	if err != nil {
		return "", err
	}
	def := f.Name() + " " + typ
	if d, ok := defaultLiteral(f, b.QuoteString); ok {
		def += " DEFAULT " + d
	}
	return def, nil
}

func (b *base) DropIndex(table string, name string) string {
	return "DROP INDEX " + name
}

// groupIndexes 按索引名聚合 (索引名, 列名) 行，列顺序保持查询顺序
func groupIndexes(rows []indexRow) []IndexInfo {
	var result []IndexInfo
	pos := map[string]int{}
	for _, r := range rows {
		i, ok := pos[r.IndexName]
		if !ok {
			i = len(result)
			pos[r.IndexName] = i
			result = append(result, IndexInfo{Name: r.IndexName, Unique: r.Unique})
		}
		result[i].Columns = append(result[i].Columns, r.ColumnName)
	}
	return result
}

type indexRow struct {
	IndexName  string
	ColumnName string
	Unique     bool
}

// columnRow 元数据列查询的结果行，各方言的查询都要给出这些列名
type columnRow struct {
	Name         string         `db:"name"`
	TypeName     string         `db:"type_name"`
	Length       sql.NullInt64  `db:"length"`
	Scale        sql.NullInt64  `db:"scale"`
	DefaultValue sql.NullString `db:"default_value"`
	Raw          sql.NullString `db:"raw"`
}

func (r columnRow) column() Column {
	c := Column{
		Name:     r.Name,
		TypeName: strings.ToUpper(strings.TrimSpace(r.TypeName)),
		Length:   r.Length.Int64,
		Scale:    r.Scale.Int64,
		Raw:      r.Raw.String,
	}
	if r.DefaultValue.Valid {
		d := r.DefaultValue.String
		c.Default = &d
	}
	return c
}

func scanColumns(ctx context.Context, q Querier, query string, args ...any) ([]Column, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var crs []columnRow
	if err := sqlx.StructScan(rows, &crs); err != nil {
		return nil, err
	}
	cols := make([]Column, 0, len(crs))
	for _, r := range crs {
		cols = append(cols, r.column())
	}
	return cols, nil
}

func countRows(ctx context.Context, q Querier, query string, args ...any) (int64, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	var n int64
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return 0, err
		}
	}
	return n, rows.Err()
}

// Transient 与具体驱动无关的瞬时错误：坏连接、连接被重置、网络错误
// context 取消或超时不算，调用方已经放弃了
func Transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}
