package cursor

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/hatlonely/rdbx/rdb/compiler"
	"github.com/hatlonely/rdbx/rdb/errs"
	"github.com/hatlonely/rdbx/rdb/schema"
)

// Cursor 查询结果的只进游标
// 列名由编译器分配为 <alias>_<field>，取值时按字段类型解码
// 游标打开期间连接被占用，同一个执行器上的下一条语句之前必须 Close
type Cursor struct {
	rows    *sql.Rows
	columns []string
	index   map[string]int
	values  []any
	closed  bool
	err     error
	onClose func()
}

type Option func(c *Cursor)

// WithOnClose 游标关闭后的回调，只调用一次
func WithOnClose(fn func()) Option {
	return func(c *Cursor) {
		c.onClose = fn
	}
}

func New(rows *sql.Rows, opts ...Option) (*Cursor, error) {
	if rows == nil {
		return nil, errors.New("rows is nil")
	}
	c := &Cursor{rows: rows}
	for _, opt := range opts {
		opt(c)
	}

	columns, err := rows.Columns()
	if err != nil {
		_ = c.Close()
		return nil, errors.Wrap(err, "rows.Columns failed")
	}
	c.columns = columns
	c.index = make(map[string]int, len(columns))
	for i, col := range columns {
		key := strings.ToUpper(col)
		if _, ok := c.index[key]; !ok {
			c.index[key] = i
		}
	}
	return c, nil
}

// Columns 结果集的列名
func (c *Cursor) Columns() []string {
	return append([]string(nil), c.columns...)
}

// Next 前进到下一行，没有更多行时返回 false 并释放结果集
func (c *Cursor) Next() bool {
	if c.closed {
		return false
	}
	if !c.rows.Next() {
		c.err = c.rows.Err()
		_ = c.Close()
		return false
	}

	values := make([]any, len(c.columns))
	dest := make([]any, len(c.columns))
	for i := range values {
		dest[i] = &values[i]
	}
	if err := c.rows.Scan(dest...); err != nil {
		c.err = errors.Wrap(err, "rows.Scan failed")
		_ = c.Close()
		return false
	}
	c.values = values
	return true
}

// Err 遍历过程中的错误
func (c *Cursor) Err() error {
	if c.err == nil {
		return nil
	}
	return errs.NewTerminal("cursor", "", c.err)
}

func (c *Cursor) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.values = nil
	err := c.rows.Close()
	if c.onClose != nil {
		c.onClose()
	}
	return errors.Wrap(err, "rows.Close failed")
}

// Value 当前行 alias 表的字段值
func (c *Cursor) Value(alias string, f schema.Field) (any, error) {
	return c.decode(alias, f, "")
}

// ValueAs 按调用方在 SelectField.As 里指定的列名取值
func (c *Cursor) ValueAs(column string, f schema.Field) (any, error) {
	return c.decode("", f, column)
}

// Row 当前行 alias 表的全部存储字段，结果里没有的列跳过
func (c *Cursor) Row(t *schema.Table, alias string) (schema.Row, error) {
	if alias == "" {
		alias = t.Name
	}
	row := schema.Row{}
	for _, f := range t.StoredFields() {
		if _, ok := c.index[strings.ToUpper(compiler.ColumnLabel(alias, f))]; !ok {
			continue
		}
		v, err := c.Value(alias, f)
		if err != nil {
			return nil, err
		}
		row[f.Name()] = v
	}
	return row, nil
}

// Scan 当前行写入结构体，字段对应关系同 schema.RowFromStruct
func (c *Cursor) Scan(t *schema.Table, alias string, dest any) error {
	row, err := c.Row(t, alias)
	if err != nil {
		return err
	}
	if err := row.Scan(dest); err != nil {
		return errs.NewModel(t.Name, "", err, "scan into %T", dest)
	}
	return nil
}

func (c *Cursor) decode(alias string, f schema.Field, column string) (any, error) {
	if c.values == nil {
		return nil, errors.New("cursor is not positioned on a row")
	}
	d := &decoder{c: c, alias: alias, column: column}
	if err := f.Accept(d); err != nil {
		return nil, err
	}
	return d.value, nil
}

func (c *Cursor) raw(column string) (any, error) {
	i, ok := c.index[strings.ToUpper(column)]
	if !ok {
		return nil, errs.NewModel("", column, nil, "column %s not in result", column)
	}
	return c.values[i], nil
}

type decoder struct {
	c      *Cursor
	alias  string
	column string
	value  any
}

func (d *decoder) label(f schema.Field) string {
	if d.column != "" {
		return d.column
	}
	return compiler.ColumnLabel(d.alias, f)
}

func (d *decoder) fail(f schema.Field, v any) error {
	return errs.NewModel("", d.label(f), errs.ErrUnsupportedKind, "cannot decode %T as %s", v, schema.KindName(f))
}

func (d *decoder) VisitString(f *schema.StringField) error {
	v, err := d.c.raw(d.label(f))
	if err != nil || v == nil {
		return err
	}
	switch x := v.(type) {
	case string:
		d.value = x
	case []byte:
		d.value = string(x)
	case int64:
		d.value = strconv.FormatInt(x, 10)
	case float64:
		d.value = strconv.FormatFloat(x, 'f', -1, 64)
	case time.Time:
		d.value = x.UTC().Format(time.RFC3339Nano)
	default:
		return d.fail(f, v)
	}
	return nil
}

func (d *decoder) VisitTimestamp(f *schema.TimestampField) error {
	v, err := d.c.raw(d.label(f))
	if err != nil || v == nil {
		return err
	}
	switch x := v.(type) {
	case time.Time:
		d.value = x.UTC()
	case string:
		d.value, err = ParseTime(x)
	case []byte:
		d.value, err = ParseTime(string(x))
	default:
		return d.fail(f, v)
	}
	if err != nil {
		return errs.NewModel("", d.label(f), err, "")
	}
	return nil
}

// VisitDecimal 解码为 decimal.Decimal，文本按原样解析，再按 scale 舍入
func (d *decoder) VisitDecimal(f *schema.DecimalField) error {
	v, err := d.c.raw(d.label(f))
	if err != nil || v == nil {
		return err
	}
	var n decimal.Decimal
	switch x := v.(type) {
	case string:
		n, err = decimal.NewFromString(x)
	case []byte:
		n, err = decimal.NewFromString(string(x))
	case int64:
		n = decimal.NewFromInt(x)
	case float64:
		n = decimal.NewFromFloat(x)
	case float32:
		n = decimal.NewFromFloat32(x)
	default:
		return d.fail(f, v)
	}
	if err != nil {
		return errs.NewModel("", d.label(f), err, "invalid decimal %v", v)
	}
	d.value = n.Round(int32(f.Scale()))
	return nil
}

func (d *decoder) VisitInteger(f *schema.IntegerField) error {
	v, err := d.c.raw(d.label(f))
	if err != nil || v == nil {
		return err
	}
	switch x := v.(type) {
	case int64:
		d.value = x
	case float64:
		d.value = int64(x)
	case string:
		d.value, err = strconv.ParseInt(x, 10, 64)
	case []byte:
		d.value, err = strconv.ParseInt(string(x), 10, 64)
	default:
		return d.fail(f, v)
	}
	if err != nil {
		return errs.NewModel("", d.label(f), err, "invalid integer %v", v)
	}
	return nil
}

// VisitBinary 整个值读入内存，NULL 和空值都返回空切片
func (d *decoder) VisitBinary(f *schema.BinaryField) error {
	v, err := d.c.raw(d.label(f))
	if err != nil {
		return err
	}
	switch x := v.(type) {
	case nil:
		d.value = []byte{}
	case []byte:
		d.value = append([]byte{}, x...)
	case string:
		d.value = []byte(x)
	default:
		return d.fail(f, v)
	}
	return nil
}

// VisitExternal 只有一个底层字段时按底层字段解码
// 多个底层字段时拼成 "v1 v2 (vN)" 形式的展示字符串，这个转换有损，不能再解析回原来的值
func (d *decoder) VisitExternal(f *schema.ExternalField) error {
	if d.column != "" {
		return errs.NewModel("", f.Name(), errs.ErrUnsupportedKind, "external field cannot be read by column %s", d.column)
	}
	fields := f.Fields()
	if len(fields) == 1 {
		return fields[0].Accept(d)
	}

	parts := make([]string, 0, len(fields))
	for _, u := range fields {
		sub := &decoder{c: d.c, alias: d.alias}
		if err := u.Accept(sub); err != nil {
			return err
		}
		parts = append(parts, display(sub.value))
	}
	last := parts[len(parts)-1]
	head := strings.TrimSpace(strings.Join(parts[:len(parts)-1], " "))
	switch {
	case last == "":
		d.value = head
	case head == "":
		d.value = "(" + last + ")"
	default:
		d.value = head + " (" + last + ")"
	}
	return nil
}

func display(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case time.Time:
		return x.Format(time.RFC3339)
	case []byte:
		return string(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}

// ParseTime 解析数据库以文本返回的时间，没有时区的按 UTC 处理
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSuffix(strings.TrimSpace(s), "Z")
	for _, layout := range sqlite3.SQLiteTimestampFormats {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	if t, err := time.Parse(time.RFC3339Nano, s+"Z"); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, errors.Errorf("unrecognized time format %q", s)
}
