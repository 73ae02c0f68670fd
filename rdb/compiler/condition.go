package compiler

import (
	"strings"

	"github.com/hatlonely/rdbx/rdb/errs"
	"github.com/hatlonely/rdbx/rdb/query"
	"github.com/hatlonely/rdbx/rdb/schema"
)

// Compile 将条件树编译为 SQL 片段和参数列表，参数与 ? 占位符一一对应
// cond 为 nil 时返回恒真条件
func Compile(cond query.Condition) (string, []any, error) {
	return compile(cond, false)
}

func compile(cond query.Condition, bare bool) (string, []any, error) {
	if query.IsNil(cond) {
		cond = query.Always{}
	}

	w := &sqlWriter{bare: bare}
	if err := cond.Accept(w); err != nil {
		return "", nil, err
	}

	b := &binder{}
	if err := cond.Accept(b); err != nil {
		return "", nil, err
	}

	// 两次遍历顺序相同，数量不一致说明条件树有问题
	if w.slots != len(b.args) {
		return "", nil, errs.NewModel("", "", errs.ErrInvalidCondition, "placeholder count %d does not match argument count %d", w.slots, len(b.args))
	}
	return w.sb.String(), b.args, nil
}

// sqlWriter 生成条件的 SQL 文本
type sqlWriter struct {
	sb strings.Builder
	// bare 不输出表别名，用于 UPDATE/DELETE
	bare  bool
	slots int
}

func (w *sqlWriter) column(alias string, f schema.Field) error {
	if f == nil {
		return errs.NewModel("", "", errs.ErrInvalidCondition, "condition has no field")
	}
	if !schema.IsStored(f) {
		return errs.NewModel("", f.Name(), errs.ErrInvalidCondition, "external field %s cannot be used in condition", f.Name())
	}
	if alias != "" && !w.bare {
		w.sb.WriteString(alias)
		w.sb.WriteString(".")
	}
	w.sb.WriteString(f.Name())
	return nil
}

func (w *sqlWriter) VisitAlways(query.Always) error {
	w.sb.WriteString("1 = 1")
	return nil
}

func (w *sqlWriter) VisitNever(query.Never) error {
	w.sb.WriteString("0 = 1")
	return nil
}

func (w *sqlWriter) VisitSimple(c *query.Simple) error {
	if c.Op.SQL() == "" {
		return errs.NewModel("", "", errs.ErrInvalidCondition, "unknown operator %d", c.Op)
	}
	if err := w.column(c.Alias, c.Field); err != nil {
		return err
	}
	if c.IsNullTest() {
		w.sb.WriteString(" IS NULL")
		return nil
	}
	w.sb.WriteString(" ")
	w.sb.WriteString(c.Op.SQL())
	w.sb.WriteString(" ?")
	w.slots++
	return nil
}

func (w *sqlWriter) VisitJoin(c *query.Join) error {
	if c.Op.SQL() == "" {
		return errs.NewModel("", "", errs.ErrInvalidCondition, "unknown operator %d", c.Op)
	}
	if err := w.column(c.LeftAlias, c.Left); err != nil {
		return err
	}
	w.sb.WriteString(" ")
	w.sb.WriteString(c.Op.SQL())
	w.sb.WriteString(" ")
	return w.column(c.RightAlias, c.Right)
}

func (w *sqlWriter) VisitAnd(c *query.And) error {
	return w.group(" AND ", c.Conditions)
}

func (w *sqlWriter) VisitOr(c *query.Or) error {
	return w.group(" OR ", c.Conditions)
}

func (w *sqlWriter) group(sep string, conds []query.Condition) error {
	w.sb.WriteString("(")
	first := true
	for _, c := range conds {
		if query.IsNil(c) {
			continue
		}
		if !first {
			w.sb.WriteString(sep)
		}
		first = false
		if err := c.Accept(w); err != nil {
			return err
		}
	}
	w.sb.WriteString(")")
	return nil
}

// binder 按与 sqlWriter 相同的顺序收集参数
type binder struct {
	args []any
}

func (b *binder) VisitAlways(query.Always) error { return nil }
func (b *binder) VisitNever(query.Never) error   { return nil }
func (b *binder) VisitJoin(*query.Join) error    { return nil }

func (b *binder) VisitSimple(c *query.Simple) error {
	if c.IsNullTest() {
		return nil
	}
	v, err := BindValue(c.Value)
	if err != nil {
		name := ""
		if c.Field != nil {
			name = c.Field.Name()
		}
		return errs.NewModel("", name, err, "")
	}
	b.args = append(b.args, v)
	return nil
}

func (b *binder) VisitAnd(c *query.And) error {
	return b.group(c.Conditions)
}

func (b *binder) VisitOr(c *query.Or) error {
	return b.group(c.Conditions)
}

func (b *binder) group(conds []query.Condition) error {
	for _, c := range conds {
		if query.IsNil(c) {
			continue
		}
		if err := c.Accept(b); err != nil {
			return err
		}
	}
	return nil
}
