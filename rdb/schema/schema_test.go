package schema

import (
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/hatlonely/rdbx/rdb/errs"
)

type level string

func (l level) Code() string { return "L_" + string(l) }

type testUser struct {
	ID        ID        `rdb:"ID,unique" table:"USERS"`
	Name      string    `rdb:"NAME,size=80,default=anon,index=IDX_NAME_AGE"`
	Age       int       `rdb:"AGE,default=18,index=IDX_NAME_AGE"`
	Score     float64   `rdb:"SCORE,size=10,scale=3"`
	Avatar    []byte    `rdb:"AVATAR,size=1024"`
	CreatedAt time.Time `rdb:"CREATED_AT"`
	Active    bool      `rdb:"ACTIVE"`
	Level     level     `rdb:"LEVEL,size=8"`
	Nickname  *string   `rdb:"NICKNAME"`
	Ignored   string    `rdb:"-"`
}

func TestTable(t *testing.T) {
	Convey("测试表定义", t, func() {
		id := NewString("ID", 36)
		name := NewString("Name", 40)
		label := MustExternal("LABEL", name)
		users := NewTable("USERS", id, name, label).WithIndex("IDX_NAME", false, "NAME")

		So(users.EqualName("users"), ShouldBeTrue)
		f, ok := users.Field("name")
		So(ok, ShouldBeTrue)
		So(f, ShouldEqual, name)
		So(users.FieldIndex("LABEL"), ShouldEqual, 2)
		So(users.FieldIndex("MISSING"), ShouldEqual, -1)
		So(users.StoredFields(), ShouldResemble, []Field{id, name})
		So(users.Validate(), ShouldBeNil)

		fields, err := users.Lookup("id", "NAME")
		So(err, ShouldBeNil)
		So(fields, ShouldResemble, []Field{id, name})
		_, err = users.Lookup("AGE")
		So(errs.IsModel(err), ShouldBeTrue)

		Convey("非法的表定义", func() {
			So(errs.IsModel(NewTable("").Validate()), ShouldBeTrue)
			So(errs.IsModel(NewTable("T", NewString("A", 1), NewInteger("a")).Validate()), ShouldBeTrue)
			So(errs.IsModel(NewTable("T", NewString("A", 1), MustExternal("B", NewString("C", 1))).Validate()), ShouldBeTrue)
			So(errs.IsModel(NewTable("T", NewString("A", 1)).WithIndex("IDX", false, "B").Validate()), ShouldBeTrue)
			So(errs.IsModel(NewTable("T", NewString("A", 1)).WithIndex("IDX", false).Validate()), ShouldBeTrue)
			So(errs.IsModel(NewTable("T", nil).Validate()), ShouldBeTrue)
		})
	})
}

func TestField(t *testing.T) {
	Convey("测试字段", t, func() {
		s := NewStringWithDefault("NAME", 40, "x")
		def, ok := s.Default()
		So(ok, ShouldBeTrue)
		So(def, ShouldEqual, "x")
		_, ok = NewString("NAME", 40).Default()
		So(ok, ShouldBeFalse)

		n, ok := NewIntegerWithDefault("AGE", 18).Default()
		So(ok, ShouldBeTrue)
		So(n, ShouldEqual, int64(18))

		d := NewDecimal("AMOUNT", 10, 2)
		So(d.Precision(), ShouldEqual, 10)
		So(d.Scale(), ShouldEqual, 2)
		So(NewBinary("DATA", 16).MaxSize(), ShouldEqual, int64(16))

		So(KindName(s), ShouldEqual, "string")
		So(KindName(NewTimestamp("T")), ShouldEqual, "timestamp")
		So(KindName(d), ShouldEqual, "decimal")
		So(KindName(NewInteger("I")), ShouldEqual, "integer")
		So(KindName(NewBinary("B", 0)), ShouldEqual, "binary")
		So(KindName(MustExternal("E", s)), ShouldEqual, "external")

		Convey("虚拟字段", func() {
			_, err := NewExternal("E")
			So(errs.IsModel(err), ShouldBeTrue)
			_, err = NewExternal("E", MustExternal("F", s))
			So(errs.IsModel(err), ShouldBeTrue)
			So(func() { MustExternal("E") }, ShouldPanic)

			e := MustExternal("E", s, d)
			So(IsStored(e), ShouldBeFalse)
			So(IsStored(s), ShouldBeTrue)
			fields := e.Fields()
			fields[0] = nil
			So(e.Fields()[0], ShouldEqual, s)
		})
	})
}

func TestTableFromStruct(t *testing.T) {
	Convey("测试从结构体构建表定义", t, func() {
		table, err := TableFromStruct(&testUser{})
		So(err, ShouldBeNil)
		So(table.Name, ShouldEqual, "USERS")
		So(len(table.Fields), ShouldEqual, 9)

		id := table.Fields[0].(*StringField)
		So(id.MaxLength(), ShouldEqual, 255)

		name := table.Fields[1].(*StringField)
		So(name.MaxLength(), ShouldEqual, 80)
		def, _ := name.Default()
		So(def, ShouldEqual, "anon")

		age := table.Fields[2].(*IntegerField)
		n, _ := age.Default()
		So(n, ShouldEqual, int64(18))

		score := table.Fields[3].(*DecimalField)
		So(score.Precision(), ShouldEqual, 10)
		So(score.Scale(), ShouldEqual, 3)

		So(table.Fields[4].(*BinaryField).MaxSize(), ShouldEqual, int64(1024))
		So(KindName(table.Fields[5]), ShouldEqual, "timestamp")
		So(KindName(table.Fields[6]), ShouldEqual, "integer")
		So(table.Fields[7].(*StringField).MaxLength(), ShouldEqual, 8)
		So(KindName(table.Fields[8]), ShouldEqual, "string")

		So(table.Indexes, ShouldResemble, []Index{
			{Name: "UK_ID", Fields: []string{"ID"}, Unique: true},
			{Name: "IDX_NAME_AGE", Fields: []string{"NAME", "AGE"}},
		})

		Convey("错误的 tag", func() {
			_, err := TableFromStruct(struct {
				A string `rdb:"A,size=x"`
			}{})
			So(errs.IsModel(err), ShouldBeTrue)

			_, err = TableFromStruct(struct {
				A map[string]int `rdb:"A"`
			}{})
			So(errs.IsModel(err), ShouldBeTrue)

			_, err = TableFromStruct(1)
			So(errs.IsModel(err), ShouldBeTrue)
		})
	})
}

func TestRow(t *testing.T) {
	Convey("测试行数据", t, func() {
		id := NewID()
		created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
		nickname := "h"
		u := testUser{
			ID:        id,
			Name:      "hatlonely",
			Age:       30,
			Score:     9.5,
			Avatar:    []byte{1},
			CreatedAt: created,
			Active:    true,
			Level:     "gold",
			Nickname:  &nickname,
			Ignored:   "x",
		}

		row := RowFromStruct(&u)
		So(row["ID"], ShouldEqual, id)
		So(row["AGE"], ShouldEqual, int64(30))
		So(row["ACTIVE"], ShouldEqual, int64(1))
		So(row["SCORE"], ShouldEqual, 9.5)
		So(row["LEVEL"], ShouldEqual, level("gold"))
		So(row["NICKNAME"], ShouldEqual, "h")
		_, ok := row["Ignored"]
		So(ok, ShouldBeFalse)

		v, ok := row.Get("name")
		So(ok, ShouldBeTrue)
		So(v, ShouldEqual, "hatlonely")
		_, ok = row.Get("missing")
		So(ok, ShouldBeFalse)

		Convey("从数据库返回的类型写回结构体", func() {
			var out testUser
			So(Row{
				"ID":         id.String(),
				"NAME":       "hatlonely",
				"AGE":        int64(30),
				"SCORE":      9.5,
				"AVATAR":     []byte{1},
				"CREATED_AT": created,
				"ACTIVE":     int64(1),
				"LEVEL":      "gold",
				"NICKNAME":   "h",
			}.Scan(&out), ShouldBeNil)
			So(out.ID, ShouldEqual, id)
			So(out.Age, ShouldEqual, 30)
			So(out.Active, ShouldBeTrue)
			So(out.Level, ShouldEqual, level("gold"))
			So(*out.Nickname, ShouldEqual, "h")
			So(out.CreatedAt, ShouldEqual, created)

			So(Row{"AGE": "x"}.Scan(&out), ShouldNotBeNil)
			So(Row{}.Scan(out), ShouldNotBeNil)
		})
	})
}

func TestValue(t *testing.T) {
	Convey("测试值类型", t, func() {
		p := Period{
			Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			End:   time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		}
		So(p.Encode(), ShouldEqual, "2024-01-01T00:00:00Z/2024-02-01T00:00:00Z")
		q, err := ParsePeriod(p.Encode())
		So(err, ShouldBeNil)
		So(q.Start.Equal(p.Start), ShouldBeTrue)
		So(q.End.Equal(p.End), ShouldBeTrue)

		_, err = ParsePeriod("2024-01-01")
		So(err, ShouldNotBeNil)
		_, err = ParsePeriod("x/y")
		So(err, ShouldNotBeNil)

		id := NewID()
		parsed, err := ParseID(id.String())
		So(err, ShouldBeNil)
		So(parsed, ShouldEqual, id)
		_, err = ParseID("not-an-id")
		So(err, ShouldNotBeNil)
	})
}
