package compiler

import (
	"strconv"
	"strings"

	"github.com/hatlonely/rdbx/rdb/errs"
	"github.com/hatlonely/rdbx/rdb/query"
	"github.com/hatlonely/rdbx/rdb/schema"
)

// Statement 编译后的语句，占位符统一为 ?，由执行层按方言改写
type Statement struct {
	SQL  string
	Args []any
}

// SelectField 查询的字段，As 为空时输出列名为 <alias>_<field>
type SelectField struct {
	Field schema.Field
	As    string
}

// TableRef FROM 里的一张表
type TableRef struct {
	Table *schema.Table
	// Alias 为空时使用表名
	Alias string
	// AllFields 查询表的全部存储字段
	AllFields bool
	Fields    []SelectField
}

func (r TableRef) alias() string {
	if r.Alias == "" {
		return r.Table.Name
	}
	return r.Alias
}

// Order 排序
type Order struct {
	Alias string
	Field schema.Field
	Desc  bool
}

// Select 查询
type Select struct {
	Distinct bool
	Tables   []TableRef
	Where    query.Condition
	OrderBy  []Order
	Limit    int
	Offset   int
}

// ColumnLabel 查询结果里字段的列名
func ColumnLabel(alias string, f schema.Field) string {
	return alias + "_" + f.Name()
}

// Compile 编译查询语句
func (s *Select) Compile() (Statement, error) {
	if len(s.Tables) == 0 {
		return Statement{}, errs.NewModel("", "", nil, "select without table")
	}

	var cols []string
	seen := map[string]struct{}{}
	add := func(alias string, f schema.Field, as string) {
		if as == "" {
			as = ColumnLabel(alias, f)
		}
		key := strings.ToUpper(as)
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		cols = append(cols, alias+"."+f.Name()+" AS "+as)
	}

	for _, ref := range s.Tables {
		if ref.Table == nil {
			return Statement{}, errs.NewModel("", "", nil, "select from nil table")
		}
		alias := ref.alias()
		if ref.AllFields {
			for _, f := range ref.Table.StoredFields() {
				add(alias, f, "")
			}
		}
		for _, sf := range ref.Fields {
			if sf.Field == nil {
				return Statement{}, errs.NewModel(ref.Table.Name, "", nil, "nil field in select")
			}
			// 虚拟字段查询它的底层字段，由游标组装
			if ext, ok := sf.Field.(*schema.ExternalField); ok {
				for _, u := range ext.Fields() {
					add(alias, u, "")
				}
				continue
			}
			add(alias, sf.Field, sf.As)
		}
	}
	if len(cols) == 0 {
		return Statement{}, errs.NewModel(s.Tables[0].Table.Name, "", nil, "select without field")
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	if s.Distinct {
		sb.WriteString("DISTINCT ")
	}
	sb.WriteString(strings.Join(cols, ", "))
	sb.WriteString(" FROM ")
	sb.WriteString(s.from())

	where, args, err := s.where()
	if err != nil {
		return Statement{}, err
	}
	sb.WriteString(where)

	if len(s.OrderBy) > 0 {
		orders := make([]string, 0, len(s.OrderBy))
		for _, o := range s.OrderBy {
			if o.Field == nil || !schema.IsStored(o.Field) {
				return Statement{}, errs.NewModel("", "", errs.ErrInvalidCondition, "invalid order field")
			}
			col := o.Field.Name()
			if o.Alias != "" {
				col = o.Alias + "." + col
			}
			if o.Desc {
				col += " DESC"
			}
			orders = append(orders, col)
		}
		sb.WriteString(" ORDER BY ")
		sb.WriteString(strings.Join(orders, ", "))
	}

	switch {
	case s.Limit > 0:
		sb.WriteString(" LIMIT ")
		sb.WriteString(strconv.Itoa(s.Limit))
		if s.Offset > 0 {
			sb.WriteString(" OFFSET ")
			sb.WriteString(strconv.Itoa(s.Offset))
		}
	case s.Offset > 0:
		// mysql 和 sqlite 的 OFFSET 必须跟在 LIMIT 后面
		sb.WriteString(" LIMIT 9223372036854775807 OFFSET ")
		sb.WriteString(strconv.Itoa(s.Offset))
	}

	return Statement{SQL: sb.String(), Args: args}, nil
}

// CompileCount 编译计数语句，忽略字段、排序和分页
func (s *Select) CompileCount() (Statement, error) {
	if len(s.Tables) == 0 {
		return Statement{}, errs.NewModel("", "", nil, "count without table")
	}
	where, args, err := s.where()
	if err != nil {
		return Statement{}, err
	}
	return Statement{SQL: "SELECT COUNT(*) FROM " + s.from() + where, Args: args}, nil
}

func (s *Select) from() string {
	tables := make([]string, 0, len(s.Tables))
	for _, ref := range s.Tables {
		if ref.Alias == "" || ref.Alias == ref.Table.Name {
			tables = append(tables, ref.Table.Name)
			continue
		}
		tables = append(tables, ref.Table.Name+" "+ref.Alias)
	}
	return strings.Join(tables, ", ")
}

func (s *Select) where() (string, []any, error) {
	if query.IsNil(s.Where) {
		return "", nil, nil
	}
	cond, args, err := Compile(s.Where)
	if err != nil {
		return "", nil, err
	}
	return " WHERE " + cond, args, nil
}

func columnList(fields []schema.Field) string {
	names := make([]string, 0, len(fields))
	for _, f := range fields {
		names = append(names, f.Name())
	}
	return strings.Join(names, ", ")
}

func placeholders(n int) string {
	return "(" + strings.TrimSuffix(strings.Repeat("?, ", n), ", ") + ")"
}

// Insert 插入一行，列为表的全部存储字段
func Insert(t *schema.Table, row schema.Row) (Statement, error) {
	fields := t.StoredFields()
	args, err := BindRow(t, fields, row)
	if err != nil {
		return Statement{}, err
	}
	return Statement{
		SQL:  "INSERT INTO " + t.Name + " (" + columnList(fields) + ") VALUES " + placeholders(len(fields)),
		Args: args,
	}, nil
}

// MassiveInsert 多行插入，每条语句最多 batchSize 行，batchSize <= 0 时一条语句插入全部
func MassiveInsert(t *schema.Table, rows []schema.Row, batchSize int) ([]Statement, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	if batchSize <= 0 {
		batchSize = len(rows)
	}

	fields := t.StoredFields()
	prefix := "INSERT INTO " + t.Name + " (" + columnList(fields) + ") VALUES "
	one := placeholders(len(fields))

	var stmts []Statement
	for start := 0; start < len(rows); start += batchSize {
		end := start + batchSize
		if end > len(rows) {
			end = len(rows)
		}
		values := make([]string, 0, end-start)
		args := make([]any, 0, (end-start)*len(fields))
		for _, row := range rows[start:end] {
			rowArgs, err := BindRow(t, fields, row)
			if err != nil {
				return nil, err
			}
			values = append(values, one)
			args = append(args, rowArgs...)
		}
		stmts = append(stmts, Statement{SQL: prefix + strings.Join(values, ", "), Args: args})
	}
	return stmts, nil
}

// Update 更新 fields 指定的字段，条件里的表别名会被忽略
func Update(t *schema.Table, fields []schema.Field, row schema.Row, where query.Condition) (Statement, error) {
	if len(fields) == 0 {
		return Statement{}, errs.NewModel(t.Name, "", nil, "update without field")
	}
	sets := make([]string, 0, len(fields))
	for _, f := range fields {
		if !schema.IsStored(f) {
			return Statement{}, errs.NewModel(t.Name, f.Name(), errs.ErrUnsupportedKind, "cannot update external field")
		}
		sets = append(sets, f.Name()+" = ?")
	}
	args, err := BindRow(t, fields, row)
	if err != nil {
		return Statement{}, err
	}

	sql := "UPDATE " + t.Name + " SET " + strings.Join(sets, ", ")
	if !query.IsNil(where) {
		cond, condArgs, err := compile(where, true)
		if err != nil {
			return Statement{}, err
		}
		sql += " WHERE " + cond
		args = append(args, condArgs...)
	}
	return Statement{SQL: sql, Args: args}, nil
}

// Delete 删除满足条件的行，条件为 nil 时删除全部
func Delete(t *schema.Table, where query.Condition) (Statement, error) {
	sql := "DELETE FROM " + t.Name
	if query.IsNil(where) {
		return Statement{SQL: sql}, nil
	}
	cond, args, err := compile(where, true)
	if err != nil {
		return Statement{}, err
	}
	return Statement{SQL: sql + " WHERE " + cond, Args: args}, nil
}
