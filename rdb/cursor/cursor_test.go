package cursor

import (
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/hatlonely/rdbx/rdb/errs"
	"github.com/hatlonely/rdbx/rdb/schema"
)

var (
	userID      = schema.NewString("ID", 36)
	userName    = schema.NewString("NAME", 40)
	userAge     = schema.NewInteger("AGE")
	userCreated = schema.NewTimestamp("CREATED")
	userAmount  = schema.NewDecimal("AMOUNT", 10, 2)
	userAvatar  = schema.NewBinary("AVATAR", 0)
	userLabel   = schema.MustExternal("LABEL", userName, userAge, userID)
	userAlias   = schema.MustExternal("ALIAS", userName)
	users       = schema.NewTable("USERS", userID, userName, userAge, userCreated, userAmount, userAvatar, userLabel, userAlias)
)

func newRows(t *testing.T, rows *sqlmock.Rows) (*sql.Rows, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	mock.ExpectQuery("SELECT").WillReturnRows(rows)
	r, err := db.Query("SELECT 1")
	if err != nil {
		t.Fatal(err)
	}
	return r, mock
}

func TestCursor(t *testing.T) {
	Convey("测试游标", t, func() {
		created := time.Date(2024, 3, 1, 8, 30, 0, 0, time.UTC)
		rows, mock := newRows(t, sqlmock.NewRows([]string{"u_ID", "u_NAME", "u_AGE", "u_CREATED", "u_AMOUNT", "u_AVATAR", "total"}).
			AddRow("1", []byte("alice"), int64(30), created, []byte("12.346"), []byte{1, 2}, int64(7)).
			AddRow("2", "bob", nil, "2024-03-02 10:00:00", 3.5, nil, int64(8)))

		c, err := New(rows)
		So(err, ShouldBeNil)
		So(c.Columns(), ShouldResemble, []string{"u_ID", "u_NAME", "u_AGE", "u_CREATED", "u_AMOUNT", "u_AVATAR", "total"})

		_, err = c.Value("u", userName)
		So(err, ShouldNotBeNil)

		So(c.Next(), ShouldBeTrue)
		v, err := c.Value("u", userName)
		So(err, ShouldBeNil)
		So(v, ShouldEqual, "alice")
		v, _ = c.Value("U", userAge)
		So(v, ShouldEqual, int64(30))
		v, _ = c.Value("u", userCreated)
		So(v, ShouldEqual, created)
		v, _ = c.Value("u", userAmount)
		So(v.(decimal.Decimal).String(), ShouldEqual, "12.35")
		v, _ = c.Value("u", userAvatar)
		So(v, ShouldResemble, []byte{1, 2})
		v, _ = c.ValueAs("TOTAL", userAge)
		So(v, ShouldEqual, int64(7))
		v, _ = c.Value("u", userLabel)
		So(v, ShouldEqual, "alice 30 (1)")
		v, _ = c.Value("u", userAlias)
		So(v, ShouldEqual, "alice")

		row, err := c.Row(users, "u")
		So(err, ShouldBeNil)
		So(row["NAME"], ShouldEqual, "alice")
		So(row["AGE"], ShouldEqual, int64(30))
		So(len(row), ShouldEqual, 6)

		_, err = c.Value("o", userName)
		So(errs.IsModel(err), ShouldBeTrue)

		So(c.Next(), ShouldBeTrue)
		v, _ = c.Value("u", userAge)
		So(v, ShouldBeNil)
		v, _ = c.Value("u", userCreated)
		So(v, ShouldEqual, time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC))
		v, _ = c.Value("u", userAmount)
		So(v.(decimal.Decimal).String(), ShouldEqual, "3.5")
		v, _ = c.Value("u", userAvatar)
		So(v, ShouldResemble, []byte{})
		v, _ = c.Value("u", userLabel)
		So(v, ShouldEqual, "bob (2)")

		So(c.Next(), ShouldBeFalse)
		So(c.Err(), ShouldBeNil)
		So(c.Next(), ShouldBeFalse)
		So(c.Close(), ShouldBeNil)
		So(mock.ExpectationsWereMet(), ShouldBeNil)
	})
}

func TestCursorDecimal(t *testing.T) {
	Convey("测试定点数精度", t, func() {
		amount := schema.NewDecimal("AMOUNT", 18, 2)
		rows, _ := newRows(t, sqlmock.NewRows([]string{"T_AMOUNT"}).
			AddRow([]byte("1234567890123456.78")).
			AddRow("123456789012345.67").
			AddRow(70368744177.66).
			AddRow(int64(42)).
			AddRow("abc"))

		c, err := New(rows)
		So(err, ShouldBeNil)
		for _, expected := range []string{"1234567890123456.78", "123456789012345.67", "70368744177.66", "42"} {
			So(c.Next(), ShouldBeTrue)
			v, err := c.Value("T", amount)
			So(err, ShouldBeNil)
			So(v.(decimal.Decimal).Equal(decimal.RequireFromString(expected)), ShouldBeTrue)
		}

		So(c.Next(), ShouldBeTrue)
		_, err = c.Value("T", amount)
		So(errs.IsModel(err), ShouldBeTrue)
		So(c.Close(), ShouldBeNil)
	})
}

func TestCursorScan(t *testing.T) {
	Convey("测试写入结构体", t, func() {
		type user struct {
			ID   string `rdb:"ID"`
			Name string `rdb:"NAME"`
			Age  int    `rdb:"AGE"`
		}
		rows, _ := newRows(t, sqlmock.NewRows([]string{"USERS_ID", "USERS_NAME", "USERS_AGE"}).AddRow("1", "alice", int64(30)))

		closed := 0
		c, err := New(rows, WithOnClose(func() { closed++ }))
		So(err, ShouldBeNil)
		So(c.Next(), ShouldBeTrue)

		var u user
		So(c.Scan(users, "", &u), ShouldBeNil)
		So(u, ShouldResemble, user{ID: "1", Name: "alice", Age: 30})

		So(c.Next(), ShouldBeFalse)
		So(c.Close(), ShouldBeNil)
		So(closed, ShouldEqual, 1)
	})
}

func TestCursorError(t *testing.T) {
	Convey("测试遍历出错", t, func() {
		rows, _ := newRows(t, sqlmock.NewRows([]string{"u_ID"}).
			AddRow("1").
			AddRow("2").
			RowError(1, sql.ErrConnDone))

		c, err := New(rows)
		So(err, ShouldBeNil)
		So(c.Next(), ShouldBeTrue)
		So(c.Next(), ShouldBeFalse)
		So(errs.IsTerminal(c.Err()), ShouldBeTrue)
	})
}

func TestParseTime(t *testing.T) {
	Convey("测试时间解析", t, func() {
		want := time.Date(2024, 3, 1, 8, 30, 5, 0, time.UTC)
		for _, s := range []string{
			"2024-03-01 08:30:05",
			"2024-03-01T08:30:05",
			"2024-03-01T08:30:05Z",
			"2024-03-01 16:30:05+08:00",
		} {
			tm, err := ParseTime(s)
			So(err, ShouldBeNil)
			So(tm, ShouldEqual, want)
		}

		tm, err := ParseTime("2024-03-01")
		So(err, ShouldBeNil)
		So(tm, ShouldEqual, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))

		_, err = ParseTime("yesterday")
		So(err, ShouldNotBeNil)
	})
}

func TestRound(t *testing.T) {
	Convey("测试小数位舍入", t, func() {
		So(round(1.005, 0), ShouldEqual, 1.0)
		So(round(2.345, 1), ShouldEqual, 2.3)
		So(round(7.1, -1), ShouldEqual, 7.1)
	})
}
