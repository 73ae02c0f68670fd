package schema

import (
	"strings"

	"github.com/hatlonely/rdbx/rdb/errs"
)

// Table 表定义，字段顺序稳定，建表和插入的列顺序都按这个顺序
type Table struct {
	Name    string
	Fields  []Field
	Indexes []Index
}

// Index 索引定义
type Index struct {
	Name   string
	Fields []string
	Unique bool
}

func NewTable(name string, fields ...Field) *Table {
	return &Table{Name: name, Fields: fields}
}

// WithIndex 追加索引定义
func (t *Table) WithIndex(name string, unique bool, fields ...string) *Table {
	t.Indexes = append(t.Indexes, Index{Name: name, Fields: fields, Unique: unique})
	return t
}

// EqualName 表名不区分大小写
func (t *Table) EqualName(name string) bool {
	return strings.EqualFold(t.Name, name)
}

// Field 按名称查找字段，不区分大小写
func (t *Table) Field(name string) (Field, bool) {
	i := t.FieldIndex(name)
	if i < 0 {
		return nil, false
	}
	return t.Fields[i], true
}

// FieldIndex 字段下标，不存在返回 -1
func (t *Table) FieldIndex(name string) int {
	for i, f := range t.Fields {
		if strings.EqualFold(f.Name(), name) {
			return i
		}
	}
	return -1
}

// StoredFields 实际落库的字段（去掉虚拟字段），保持声明顺序
func (t *Table) StoredFields() []Field {
	fields := make([]Field, 0, len(t.Fields))
	for _, f := range t.Fields {
		if IsStored(f) {
			fields = append(fields, f)
		}
	}
	return fields
}

// Lookup 按名称批量查找字段
func (t *Table) Lookup(names ...string) ([]Field, error) {
	fields := make([]Field, 0, len(names))
	for _, name := range names {
		f, ok := t.Field(name)
		if !ok {
			return nil, errs.NewModel(t.Name, name, nil, "field %s not declared in table %s", name, t.Name)
		}
		fields = append(fields, f)
	}
	return fields, nil
}

// Validate 校验表定义：字段名唯一，虚拟字段只能引用本表的存储字段，索引字段必须存在
func (t *Table) Validate() error {
	if t.Name == "" {
		return errs.NewModel("", "", nil, "table name is empty")
	}
	seen := make(map[string]struct{}, len(t.Fields))
	for _, f := range t.Fields {
		if f == nil {
			return errs.NewModel(t.Name, "", nil, "nil field in table %s", t.Name)
		}
		key := strings.ToUpper(f.Name())
		if key == "" {
			return errs.NewModel(t.Name, "", nil, "empty field name in table %s", t.Name)
		}
		if _, ok := seen[key]; ok {
			return errs.NewModel(t.Name, f.Name(), nil, "duplicate field %s in table %s", f.Name(), t.Name)
		}
		seen[key] = struct{}{}
	}
	for _, f := range t.Fields {
		ext, ok := f.(*ExternalField)
		if !ok {
			continue
		}
		for _, u := range ext.Fields() {
			stored, ok := t.Field(u.Name())
			if !ok || !IsStored(stored) {
				return errs.NewModel(t.Name, f.Name(), nil, "external field %s refers to %s which is not a stored field of %s", f.Name(), u.Name(), t.Name)
			}
		}
	}
	for _, idx := range t.Indexes {
		if len(idx.Fields) == 0 {
			return errs.NewModel(t.Name, "", nil, "index %s has no field", idx.Name)
		}
		for _, name := range idx.Fields {
			f, ok := t.Field(name)
			if !ok || !IsStored(f) {
				return errs.NewModel(t.Name, name, nil, "index %s refers to unknown field %s", idx.Name, name)
			}
		}
	}
	return nil
}
