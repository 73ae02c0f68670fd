package query

import (
	"reflect"

	"github.com/hatlonely/rdbx/rdb/schema"
)

// Operator 比较操作符
type Operator int

const (
	Equal Operator = iota + 1
	Like
	Greater
	GreaterOrEqual
	Smaller
	SmallerOrEqual
)

// SQL 操作符对应的 SQL 文本
func (op Operator) SQL() string {
	switch op {
	case Equal:
		return "="
	case Like:
		return "LIKE"
	case Greater:
		return ">"
	case GreaterOrEqual:
		return ">="
	case Smaller:
		return "<"
	case SmallerOrEqual:
		return "<="
	}
	return ""
}

// NullTest 空值时是否渲染为 IS NULL
func (op Operator) NullTest() bool {
	return op == Equal || op == Like
}

// Condition 查询条件节点
type Condition interface {
	Accept(v Visitor) error
}

// Visitor 条件访问者，SQL 生成和参数绑定都实现这个接口，保证遍历顺序一致
type Visitor interface {
	VisitAlways(c Always) error
	VisitNever(c Never) error
	VisitSimple(c *Simple) error
	VisitJoin(c *Join) error
	VisitAnd(c *And) error
	VisitOr(c *Or) error
}

// Always 恒真
type Always struct{}

func (c Always) Accept(v Visitor) error { return v.VisitAlways(c) }

// Never 恒假
type Never struct{}

func (c Never) Accept(v Visitor) error { return v.VisitNever(c) }

// Simple 字段与值比较，Value 为空值且操作符为 Equal/Like 时表示 IS NULL
type Simple struct {
	Field schema.Field
	Op    Operator
	Alias string
	Value any
}

func (c *Simple) Accept(v Visitor) error { return v.VisitSimple(c) }

// IsNullTest 是否渲染为 IS NULL（不占用参数位）
func (c *Simple) IsNullTest() bool {
	return IsNullValue(c.Value) && c.Op.NullTest()
}

// IsNullValue nil 以及值为 nil 的指针、切片、map、接口都按 NULL 处理
func IsNullValue(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Slice, reflect.Map, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

// Join 两个表字段之间的比较，没有绑定参数
type Join struct {
	Left       schema.Field
	LeftAlias  string
	Op         Operator
	Right      schema.Field
	RightAlias string
}

func (c *Join) Accept(v Visitor) error { return v.VisitJoin(c) }

// And 条件列表可以包含 nil，访问时跳过
type And struct {
	Conditions []Condition
}

func (c *And) Accept(v Visitor) error { return v.VisitAnd(c) }

// Or 条件列表可以包含 nil，访问时跳过
type Or struct {
	Conditions []Condition
}

func (c *Or) Accept(v Visitor) error { return v.VisitOr(c) }

func Eq(alias string, f schema.Field, value any) *Simple {
	return &Simple{Field: f, Op: Equal, Alias: alias, Value: value}
}

func Likes(alias string, f schema.Field, pattern any) *Simple {
	return &Simple{Field: f, Op: Like, Alias: alias, Value: pattern}
}

func Gt(alias string, f schema.Field, value any) *Simple {
	return &Simple{Field: f, Op: Greater, Alias: alias, Value: value}
}

func Ge(alias string, f schema.Field, value any) *Simple {
	return &Simple{Field: f, Op: GreaterOrEqual, Alias: alias, Value: value}
}

func Lt(alias string, f schema.Field, value any) *Simple {
	return &Simple{Field: f, Op: Smaller, Alias: alias, Value: value}
}

func Le(alias string, f schema.Field, value any) *Simple {
	return &Simple{Field: f, Op: SmallerOrEqual, Alias: alias, Value: value}
}

// On 连接条件 leftAlias.left = rightAlias.right
func On(leftAlias string, left schema.Field, rightAlias string, right schema.Field) *Join {
	return &Join{Left: left, LeftAlias: leftAlias, Op: Equal, Right: right, RightAlias: rightAlias}
}

func AndOf(conds ...Condition) *And {
	return &And{Conditions: conds}
}

func OrOf(conds ...Condition) *Or {
	return &Or{Conditions: conds}
}

// IsNil 空槽位，包括带类型的 nil 指针
func IsNil(c Condition) bool {
	switch n := c.(type) {
	case nil:
		return true
	case *Simple:
		return n == nil
	case *Join:
		return n == nil
	case *And:
		return n == nil
	case *Or:
		return n == nil
	}
	return false
}
