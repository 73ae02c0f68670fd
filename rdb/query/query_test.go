package query

import (
	"fmt"
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/hatlonely/rdbx/rdb/schema"
)

// recorder 按访问顺序记录节点
type recorder struct {
	visits []string
}

func (r *recorder) VisitAlways(Always) error { r.visits = append(r.visits, "always"); return nil }
func (r *recorder) VisitNever(Never) error   { r.visits = append(r.visits, "never"); return nil }

func (r *recorder) VisitSimple(c *Simple) error {
	r.visits = append(r.visits, fmt.Sprintf("%s %s %v", c.Field.Name(), c.Op.SQL(), c.Value))
	return nil
}

func (r *recorder) VisitJoin(c *Join) error {
	r.visits = append(r.visits, fmt.Sprintf("%s.%s %s %s.%s", c.LeftAlias, c.Left.Name(), c.Op.SQL(), c.RightAlias, c.Right.Name()))
	return nil
}

func (r *recorder) VisitAnd(c *And) error { return r.group("and", c.Conditions) }
func (r *recorder) VisitOr(c *Or) error   { return r.group("or", c.Conditions) }

func (r *recorder) group(name string, conds []Condition) error {
	r.visits = append(r.visits, name+"(")
	for _, c := range conds {
		if IsNil(c) {
			continue
		}
		if err := c.Accept(r); err != nil {
			return err
		}
	}
	r.visits = append(r.visits, ")")
	return nil
}

func TestOperator(t *testing.T) {
	Convey("测试操作符", t, func() {
		So(Equal.SQL(), ShouldEqual, "=")
		So(Like.SQL(), ShouldEqual, "LIKE")
		So(Greater.SQL(), ShouldEqual, ">")
		So(GreaterOrEqual.SQL(), ShouldEqual, ">=")
		So(Smaller.SQL(), ShouldEqual, "<")
		So(SmallerOrEqual.SQL(), ShouldEqual, "<=")
		So(Operator(0).SQL(), ShouldEqual, "")

		So(Equal.NullTest(), ShouldBeTrue)
		So(Like.NullTest(), ShouldBeTrue)
		So(Greater.NullTest(), ShouldBeFalse)
	})
}

func TestCondition(t *testing.T) {
	Convey("测试条件树", t, func() {
		id := schema.NewString("ID", 36)
		age := schema.NewInteger("AGE")
		uid := schema.NewString("USER_ID", 36)

		Convey("构造函数", func() {
			So(Eq("u", id, "1"), ShouldResemble, &Simple{Field: id, Op: Equal, Alias: "u", Value: "1"})
			So(Likes("", id, "a%").Op, ShouldEqual, Like)
			So(Gt("", age, 1).Op, ShouldEqual, Greater)
			So(Ge("", age, 1).Op, ShouldEqual, GreaterOrEqual)
			So(Lt("", age, 1).Op, ShouldEqual, Smaller)
			So(Le("", age, 1).Op, ShouldEqual, SmallerOrEqual)
			So(On("u", id, "o", uid), ShouldResemble, &Join{Left: id, LeftAlias: "u", Op: Equal, Right: uid, RightAlias: "o"})
		})

		Convey("空值测试", func() {
			So(Eq("", id, nil).IsNullTest(), ShouldBeTrue)
			So(Likes("", id, nil).IsNullTest(), ShouldBeTrue)
			So(Gt("", age, nil).IsNullTest(), ShouldBeFalse)
			So(Eq("", id, "").IsNullTest(), ShouldBeFalse)
		})

		Convey("IsNil", func() {
			var s *Simple
			var j *Join
			var a *And
			var o *Or
			So(IsNil(nil), ShouldBeTrue)
			So(IsNil(s), ShouldBeTrue)
			So(IsNil(j), ShouldBeTrue)
			So(IsNil(a), ShouldBeTrue)
			So(IsNil(o), ShouldBeTrue)
			So(IsNil(Always{}), ShouldBeFalse)
			So(IsNil(Never{}), ShouldBeFalse)
			So(IsNil(AndOf()), ShouldBeFalse)
		})

		Convey("访问顺序和声明顺序一致，跳过空槽位", func() {
			var missing *Simple
			cond := AndOf(
				Eq("", id, "1"),
				nil,
				OrOf(Gt("", age, 18), missing, Never{}),
				On("u", id, "o", uid),
				Always{},
			)
			r := &recorder{}
			So(cond.Accept(r), ShouldBeNil)
			So(strings.Join(r.visits, " "), ShouldEqual, "and( ID = 1 or( AGE > 18 never ) u.ID = o.USER_ID always )")
		})
	})
}
