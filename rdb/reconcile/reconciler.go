package reconcile

import (
	"context"
	"strconv"
	"strings"

	"github.com/hatlonely/rdbx/log/logger"
	"github.com/hatlonely/rdbx/rdb/compiler"
	"github.com/hatlonely/rdbx/rdb/dialect"
	"github.com/hatlonely/rdbx/rdb/errs"
	"github.com/hatlonely/rdbx/rdb/executor"
	"github.com/hatlonely/rdbx/rdb/schema"
)

// FieldStatus 字段与数据库列的比较结果
type FieldStatus int

const (
	StatusOK FieldStatus = iota
	// StatusMissing 列不存在，可以直接加列
	StatusMissing
	// StatusExtendable 只是长度或精度不够，可以自动扩展
	StatusExtendable
	// StatusIncompatible 类型或默认值不一致，需要人工处理
	StatusIncompatible
)

func (s FieldStatus) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusMissing:
		return "MISSING"
	case StatusExtendable:
		return "EXTENDABLE"
	case StatusIncompatible:
		return "INCOMPATIBLE"
	}
	return "UNKNOWN"
}

// IndexStatus 索引与数据库的比较结果
type IndexStatus int

const (
	IndexOK IndexStatus = iota
	IndexMissing
	// IndexDifferent 同名索引的列不同，调用方可以删除后重建
	IndexDifferent
)

func (s IndexStatus) String() string {
	switch s {
	case IndexOK:
		return "OK"
	case IndexMissing:
		return "MISSING"
	case IndexDifferent:
		return "DIFFERENT"
	}
	return "UNKNOWN"
}

// Reconciler 比较表定义和数据库元数据，生成并执行 DDL
// 元数据读取经过执行器重试，DDL 只执行一次，失败后由调用方重新同步确认结果
type Reconciler struct {
	executor *executor.Executor
	dialect  dialect.Dialect
	cache    MetadataCache
	logger   logger.Logger
}

type Option func(r *Reconciler)

func WithLogger(l logger.Logger) Option {
	return func(r *Reconciler) {
		if l != nil {
			r.logger = l
		}
	}
}

// New cache 为 nil 时使用 MapCache
func New(e *executor.Executor, cache MetadataCache, opts ...Option) *Reconciler {
	if cache == nil {
		cache = NewMapCache()
	}
	r := &Reconciler{
		executor: e,
		dialect:  e.Dialect(),
		cache:    cache,
		logger:   e.Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.WithGroup("reconcile")
	return r
}

func (r *Reconciler) Cache() MetadataCache {
	return r.cache
}

func (r *Reconciler) TableExists(ctx context.Context, t *schema.Table) (bool, error) {
	return executor.Execute(ctx, r.executor, executor.Work[bool]{
		Name: "tableExists",
		Run: func(ctx context.Context, s *executor.Session) (bool, error) {
			return r.dialect.TableExists(ctx, s, t.Name)
		},
	})
}

// columns 每张表只读一次元数据，DDL 之后失效
func (r *Reconciler) columns(ctx context.Context, t *schema.Table) ([]dialect.Column, error) {
	if cols, ok := r.cache.Get(t.Name); ok {
		return cols, nil
	}
	cols, err := executor.Execute(ctx, r.executor, executor.Work[[]dialect.Column]{
		Name: "columns",
		Run: func(ctx context.Context, s *executor.Session) ([]dialect.Column, error) {
			return r.dialect.Columns(ctx, s, t.Name)
		},
	})
	if err != nil {
		return nil, err
	}
	r.cache.Set(t.Name, cols)
	return cols, nil
}

func findColumn(cols []dialect.Column, name string) (dialect.Column, bool) {
	for _, c := range cols {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return dialect.Column{}, false
}

func (r *Reconciler) field(t *schema.Table, i int) (schema.Field, error) {
	if i < 0 || i >= len(t.Fields) {
		return nil, errs.NewModel(t.Name, "", nil, "field index %d out of range", i)
	}
	return t.Fields[i], nil
}

// FieldStatus 第 i 个字段的状态
func (r *Reconciler) FieldStatus(ctx context.Context, t *schema.Table, i int) (FieldStatus, error) {
	status, _, err := r.fieldStatus(ctx, t, i)
	return status, err
}

func (r *Reconciler) fieldStatus(ctx context.Context, t *schema.Table, i int) (FieldStatus, string, error) {
	f, err := r.field(t, i)
	if err != nil {
		return StatusIncompatible, "", err
	}
	if !schema.IsStored(f) {
		return StatusOK, "", nil
	}
	cols, err := r.columns(ctx, t)
	if err != nil {
		return StatusIncompatible, "", err
	}
	col, ok := findColumn(cols, f.Name())
	if !ok {
		return StatusMissing, "", nil
	}
	status, reason := r.check(f, col)
	return status, reason, nil
}

// check 类型名必须完全一致，默认值不一致也不能自动修复，只有长度/精度不足可以扩展
func (r *Reconciler) check(f schema.Field, col dialect.Column) (FieldStatus, string) {
	c := &columnCheck{names: r.dialect.TypeNames(), col: col}
	_ = f.Accept(c)

	if col.TypeName != c.expected {
		return StatusIncompatible, "expected type " + c.expected + ", observed " + describe(col)
	}
	if observed, expected := r.observedDefault(col), r.expectedDefault(f); observed != expected {
		return StatusIncompatible, "expected default [" + expected + "], observed [" + observed + "]"
	}
	if c.short {
		return StatusExtendable, "expected " + c.size + ", observed " + describe(col)
	}
	return StatusOK, ""
}

func describe(col dialect.Column) string {
	if col.Length == 0 {
		return col.TypeName
	}
	if col.Scale == 0 {
		return col.TypeName + "(" + strconv.FormatInt(col.Length, 10) + ")"
	}
	return col.TypeName + "(" + strconv.FormatInt(col.Length, 10) + "," + strconv.FormatInt(col.Scale, 10) + ")"
}

// observedDefault null、NULL 和空字符串视为同一个值
func (r *Reconciler) observedDefault(col dialect.Column) string {
	if col.Default == nil {
		return ""
	}
	d := strings.TrimSpace(*col.Default)
	if strings.EqualFold(d, "NULL") {
		return ""
	}
	if r.dialect.QuotedDefaults() && d == r.dialect.QuoteString("") {
		return ""
	}
	return d
}

func (r *Reconciler) expectedDefault(f schema.Field) string {
	switch t := f.(type) {
	case *schema.StringField:
		d, ok := t.Default()
		if !ok || d == "" {
			return ""
		}
		if r.dialect.QuotedDefaults() {
			return r.dialect.QuoteString(d)
		}
		return d
	case *schema.IntegerField:
		if d, ok := t.Default(); ok {
			return strconv.FormatInt(d, 10)
		}
	}
	return ""
}

type columnCheck struct {
	names    dialect.TypeNames
	col      dialect.Column
	expected string
	short    bool
	size     string
}

func (c *columnCheck) VisitString(f *schema.StringField) error {
	c.expected = c.names.String
	c.short = c.col.Length != int64(f.MaxLength())
	c.size = "length " + strconv.Itoa(f.MaxLength())
	return nil
}

func (c *columnCheck) VisitTimestamp(f *schema.TimestampField) error {
	c.expected = c.names.Timestamp
	return nil
}

func (c *columnCheck) VisitDecimal(f *schema.DecimalField) error {
	c.expected = c.names.Decimal
	c.short = c.col.Length < int64(f.Precision()) || c.col.Scale < int64(f.Scale())
	c.size = "precision " + strconv.Itoa(f.Precision()) + " scale " + strconv.Itoa(f.Scale())
	return nil
}

func (c *columnCheck) VisitInteger(f *schema.IntegerField) error {
	c.expected = c.names.Integer
	return nil
}

func (c *columnCheck) VisitBinary(f *schema.BinaryField) error {
	c.expected = c.names.Binary
	c.short = f.MaxSize() > 0 && c.col.Length < f.MaxSize()
	c.size = "size " + strconv.FormatInt(f.MaxSize(), 10)
	return nil
}

func (c *columnCheck) VisitExternal(f *schema.ExternalField) error {
	return nil
}

// IndexStatus 按名称（不区分大小写）查找索引，列按位置比较
func (r *Reconciler) IndexStatus(ctx context.Context, t *schema.Table, fields []string, name string) (IndexStatus, error) {
	indexes, err := executor.Execute(ctx, r.executor, executor.Work[[]dialect.IndexInfo]{
		Name: "indexes",
		Run: func(ctx context.Context, s *executor.Session) ([]dialect.IndexInfo, error) {
			return r.dialect.Indexes(ctx, s, t.Name)
		},
	})
	if err != nil {
		return IndexMissing, err
	}
	for _, idx := range indexes {
		if strings.ToUpper(idx.Name) != strings.ToUpper(name) {
			continue
		}
		if len(idx.Columns) != len(fields) {
			return IndexDifferent, nil
		}
		for i := range fields {
			if !strings.EqualFold(idx.Columns[i], fields[i]) {
				return IndexDifferent, nil
			}
		}
		return IndexOK, nil
	}
	return IndexMissing, nil
}

// ddl 不重试，多条语句放在一个事务里执行（mysql 的 DDL 会隐式提交）
func (r *Reconciler) ddl(ctx context.Context, t *schema.Table, name string, stmts ...string) error {
	defer r.cache.Invalidate(t.Name)

	err := r.executor.ExecOnce(ctx, name, func(ctx context.Context, s *executor.Session) error {
		tx := len(stmts) > 1 && s.AutoCommit()
		if tx {
			_ = s.SetAutoCommit(false)
			defer func() {
				_ = s.Rollback()
				_ = s.SetAutoCommit(true)
			}()
		}
		for _, stmt := range stmts {
			if _, err := s.ExecContext(ctx, stmt); err != nil {
				return err
			}
		}
		if tx {
			return s.Commit()
		}
		return nil
	})
	if err != nil {
		r.logger.ErrorContext(ctx, "ddl failed", "operation", name, "table", t.Name, "error", err.Error())
		return err
	}
	for _, stmt := range stmts {
		r.logger.InfoContext(ctx, "ddl executed", "operation", name, "table", t.Name, "statement", stmt)
	}
	return nil
}

func (r *Reconciler) CreateTable(ctx context.Context, t *schema.Table) error {
	stmt, err := compiler.CreateTable(r.dialect, t)
	if err != nil {
		return err
	}
	return r.ddl(ctx, t, "createTable", stmt)
}

func (r *Reconciler) AddColumn(ctx context.Context, t *schema.Table, i int) error {
	f, err := r.field(t, i)
	if err != nil {
		return err
	}
	stmt, err := compiler.AddColumn(r.dialect, t, f)
	if err != nil {
		return err
	}
	return r.ddl(ctx, t, "addColumn", stmt)
}

// ExtendColumn 扩展列长度或精度，sqlite 会重建表，原有索引需要重新同步
func (r *Reconciler) ExtendColumn(ctx context.Context, t *schema.Table, i int) error {
	f, err := r.field(t, i)
	if err != nil {
		return err
	}
	live, err := r.columns(ctx, t)
	if err != nil {
		return err
	}
	stmts, err := r.dialect.ExtendColumn(t, f, live)
	if err != nil {
		return err
	}
	return r.ddl(ctx, t, "extendColumn", stmts...)
}

func (r *Reconciler) CreateIndex(ctx context.Context, name string, t *schema.Table, fields []string, unique bool) error {
	if _, err := t.Lookup(fields...); err != nil {
		return err
	}
	stmt := compiler.CreateIndex(t, schema.Index{Name: name, Fields: fields, Unique: unique})
	return r.ddl(ctx, t, "createIndex", stmt)
}

func (r *Reconciler) DropIndex(ctx context.Context, t *schema.Table, name string) error {
	return r.ddl(ctx, t, "dropIndex", compiler.DropIndex(r.dialect, t.Name, name))
}

// Sync 让数据库和表定义一致：建表、加列、扩展列、建索引，不兼容的字段直接返回模型错误
func (r *Reconciler) Sync(ctx context.Context, t *schema.Table) error {
	if err := t.Validate(); err != nil {
		return err
	}

	exists, err := r.TableExists(ctx, t)
	if err != nil {
		return err
	}
	if !exists {
		if err := r.CreateTable(ctx, t); err != nil {
			return err
		}
	} else if err := r.syncFields(ctx, t); err != nil {
		return err
	}

	for _, idx := range t.Indexes {
		status, err := r.IndexStatus(ctx, t, idx.Fields, idx.Name)
		if err != nil {
			return err
		}
		switch status {
		case IndexDifferent:
			if err := r.DropIndex(ctx, t, idx.Name); err != nil {
				return err
			}
			fallthrough
		case IndexMissing:
			if err := r.CreateIndex(ctx, idx.Name, t, idx.Fields, idx.Unique); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Reconciler) syncFields(ctx context.Context, t *schema.Table) error {
	for i, f := range t.Fields {
		status, reason, err := r.fieldStatus(ctx, t, i)
		if err != nil {
			return err
		}
		switch status {
		case StatusMissing:
			err = r.AddColumn(ctx, t, i)
		case StatusExtendable:
			r.logger.InfoContext(ctx, "extend column", "table", t.Name, "field", f.Name(), "reason", reason)
			err = r.ExtendColumn(ctx, t, i)
		case StatusIncompatible:
			err = errs.NewModel(t.Name, f.Name(), errs.ErrIncompatibleSchema, "%s field %s: %s", schema.KindName(f), f.Name(), reason)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
