package reconcile

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/hatlonely/rdbx/log/logger"
	"github.com/hatlonely/rdbx/rdb/dialect"
	"github.com/hatlonely/rdbx/rdb/errs"
	"github.com/hatlonely/rdbx/rdb/executor"
	"github.com/hatlonely/rdbx/rdb/schema"
)

func newReconciler(t *testing.T) (*Reconciler, *sql.DB) {
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "test.db")+"?_busy_timeout=5000")
	if err != nil {
		t.Fatal(err)
	}
	e, err := executor.New(executor.NewDBGateway(db), dialect.NewSQLite(), &executor.Options{BaseDelay: time.Millisecond}, executor.WithLogger(logger.NewNop()))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		_ = e.Close()
		_ = db.Close()
	})
	return New(e, NewMapCache()), db
}

func mustExec(db *sql.DB, stmts ...string) {
	for _, stmt := range stmts {
		_, err := db.Exec(stmt)
		So(err, ShouldBeNil)
	}
}

func TestFieldStatus(t *testing.T) {
	Convey("测试字段状态", t, func() {
		r, db := newReconciler(t)
		ctx := context.Background()
		mustExec(db, "CREATE TABLE USERS (ID VARCHAR(36), NAME VARCHAR(40) DEFAULT 'x', AGE BIGINT DEFAULT 18, AMOUNT DECIMAL_TEXT(8,2), SCORE DECIMAL_TEXT(12,3), DATA BLOB(16), CREATED TIMESTAMP)")

		users := schema.NewTable("USERS",
			schema.NewString("ID", 36),
			schema.NewStringWithDefault("NAME", 80, "x"),
			schema.NewIntegerWithDefault("AGE", 18),
			schema.NewDecimal("AMOUNT", 10, 2),
			schema.NewDecimal("SCORE", 10, 2),
			schema.NewBinary("DATA", 1024),
			schema.NewTimestamp("CREATED"),
			schema.NewString("EMAIL", 100),
			schema.MustExternal("LABEL", schema.NewString("ID", 36)),
		)

		expect := []FieldStatus{StatusOK, StatusExtendable, StatusOK, StatusExtendable, StatusOK, StatusExtendable, StatusOK, StatusMissing, StatusOK}
		for i, want := range expect {
			status, err := r.FieldStatus(ctx, users, i)
			So(err, ShouldBeNil)
			So(status, ShouldEqual, want)
		}

		_, err := r.FieldStatus(ctx, users, 100)
		So(errs.IsModel(err), ShouldBeTrue)

		Convey("扩展列之后重新检查", func() {
			So(r.ExtendColumn(ctx, users, 1), ShouldBeNil)
			status, err := r.FieldStatus(ctx, users, 1)
			So(err, ShouldBeNil)
			So(status, ShouldEqual, StatusOK)

			So(r.AddColumn(ctx, users, 7), ShouldBeNil)
			status, err = r.FieldStatus(ctx, users, 7)
			So(err, ShouldBeNil)
			So(status, ShouldEqual, StatusOK)
		})

		Convey("类型不一致", func() {
			bad := schema.NewTable("USERS", schema.NewInteger("NAME"))
			status, err := r.FieldStatus(ctx, bad, 0)
			So(err, ShouldBeNil)
			So(status, ShouldEqual, StatusIncompatible)
		})

		Convey("默认值不一致", func() {
			bad := schema.NewTable("USERS", schema.NewStringWithDefault("NAME", 40, "y"), schema.NewInteger("AGE"))
			status, _ := r.FieldStatus(ctx, bad, 0)
			So(status, ShouldEqual, StatusIncompatible)
			status, _ = r.FieldStatus(ctx, bad, 1)
			So(status, ShouldEqual, StatusIncompatible)

			empty := schema.NewTable("USERS", schema.NewStringWithDefault("ID", 36, ""))
			status, _ = r.FieldStatus(ctx, empty, 0)
			So(status, ShouldEqual, StatusOK)
		})

		Convey("元数据缓存", func() {
			mustExec(db, "ALTER TABLE USERS ADD COLUMN EMAIL VARCHAR(100)")
			status, _ := r.FieldStatus(ctx, users, 7)
			So(status, ShouldEqual, StatusMissing)

			r.Cache().Invalidate("users")
			status, _ = r.FieldStatus(ctx, users, 7)
			So(status, ShouldEqual, StatusOK)
		})
	})
}

func TestIndexStatus(t *testing.T) {
	Convey("测试索引状态", t, func() {
		r, db := newReconciler(t)
		ctx := context.Background()
		mustExec(db,
			"CREATE TABLE USERS (ID VARCHAR(36), NAME VARCHAR(40), AGE BIGINT)",
			"CREATE INDEX IDX_USERS_NAME ON USERS (NAME, AGE)",
		)
		users := schema.NewTable("USERS", schema.NewString("ID", 36), schema.NewString("NAME", 40), schema.NewInteger("AGE"))

		status, err := r.IndexStatus(ctx, users, []string{"NAME", "AGE"}, "idx_users_name")
		So(err, ShouldBeNil)
		So(status, ShouldEqual, IndexOK)

		status, _ = r.IndexStatus(ctx, users, []string{"AGE", "NAME"}, "IDX_USERS_NAME")
		So(status, ShouldEqual, IndexDifferent)
		status, _ = r.IndexStatus(ctx, users, []string{"NAME"}, "IDX_USERS_NAME")
		So(status, ShouldEqual, IndexDifferent)

		status, _ = r.IndexStatus(ctx, users, []string{"ID"}, "UK_USERS_ID")
		So(status, ShouldEqual, IndexMissing)

		So(r.CreateIndex(ctx, "UK_USERS_ID", users, []string{"ID"}, true), ShouldBeNil)
		status, _ = r.IndexStatus(ctx, users, []string{"ID"}, "UK_USERS_ID")
		So(status, ShouldEqual, IndexOK)

		So(r.CreateIndex(ctx, "IDX_X", users, []string{"UNKNOWN"}, false), ShouldNotBeNil)

		So(r.DropIndex(ctx, users, "UK_USERS_ID"), ShouldBeNil)
		status, _ = r.IndexStatus(ctx, users, []string{"ID"}, "UK_USERS_ID")
		So(status, ShouldEqual, IndexMissing)

		err = r.DropIndex(ctx, users, "UK_USERS_ID")
		So(errs.IsTerminal(err), ShouldBeTrue)
	})
}

func TestSync(t *testing.T) {
	Convey("测试同步表结构", t, func() {
		r, db := newReconciler(t)
		ctx := context.Background()

		users := schema.NewTable("USERS",
			schema.NewString("ID", 36),
			schema.NewStringWithDefault("NAME", 80, "x"),
			schema.NewIntegerWithDefault("AGE", 18),
			schema.NewTimestamp("CREATED"),
		).WithIndex("UK_USERS_ID", true, "ID").WithIndex("IDX_USERS_NAME", false, "NAME", "AGE")

		Convey("表不存在时建表", func() {
			So(r.Sync(ctx, users), ShouldBeNil)
			ok, err := r.TableExists(ctx, users)
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)
			for i := range users.Fields {
				status, err := r.FieldStatus(ctx, users, i)
				So(err, ShouldBeNil)
				So(status, ShouldEqual, StatusOK)
			}
			for _, idx := range users.Indexes {
				status, err := r.IndexStatus(ctx, users, idx.Fields, idx.Name)
				So(err, ShouldBeNil)
				So(status, ShouldEqual, IndexOK)
			}

			So(r.Sync(ctx, users), ShouldBeNil)
		})

		Convey("补齐缺失的列和索引", func() {
			mustExec(db,
				"CREATE TABLE USERS (ID VARCHAR(36), NAME VARCHAR(40) DEFAULT 'x')",
				"INSERT INTO USERS (ID, NAME) VALUES ('1', 'alice')",
				"CREATE INDEX IDX_USERS_NAME ON USERS (NAME)",
			)
			So(r.Sync(ctx, users), ShouldBeNil)

			for i := range users.Fields {
				status, _ := r.FieldStatus(ctx, users, i)
				So(status, ShouldEqual, StatusOK)
			}
			status, _ := r.IndexStatus(ctx, users, []string{"NAME", "AGE"}, "IDX_USERS_NAME")
			So(status, ShouldEqual, IndexOK)

			var name string
			var age int64
			So(db.QueryRow("SELECT NAME, AGE FROM USERS WHERE ID = '1'").Scan(&name, &age), ShouldBeNil)
			So(name, ShouldEqual, "alice")
			So(age, ShouldEqual, int64(18))
		})

		Convey("不兼容的字段", func() {
			mustExec(db, "CREATE TABLE USERS (ID BIGINT)")
			err := r.Sync(ctx, users)
			So(errs.IsModel(err), ShouldBeTrue)
			So(errors.Is(err, errs.ErrIncompatibleSchema), ShouldBeTrue)
			So(err.Error(), ShouldContainSubstring, "ID")
		})
	})
}

func TestCache(t *testing.T) {
	Convey("测试元数据缓存", t, func() {
		def := "'x'"
		cols := []dialect.Column{
			{Name: "ID", TypeName: "VARCHAR", Length: 36, Raw: "VARCHAR(36)"},
			{Name: "NAME", TypeName: "VARCHAR", Length: 40, Default: &def, Raw: "VARCHAR(40)"},
		}

		for _, c := range []MetadataCache{
			NewMapCache(),
			NewFreeCacheWithOptions(&FreeCacheOptions{Size: 1024 * 1024, TTL: time.Minute}),
		} {
			Convey(fmt.Sprintf("%T", c), func() {
				_, ok := c.Get("USERS")
				So(ok, ShouldBeFalse)

				c.Set("users", cols)
				got, ok := c.Get("USERS")
				So(ok, ShouldBeTrue)
				So(got, ShouldResemble, cols)

				c.Invalidate("Users")
				_, ok = c.Get("USERS")
				So(ok, ShouldBeFalse)

				c.Set("USERS", cols)
				c.Set("ORDERS", cols[:1])
				c.Clear()
				_, ok = c.Get("ORDERS")
				So(ok, ShouldBeFalse)
			})
		}
	})
}

func TestDDLLog(t *testing.T) {
	Convey("测试 DDL 日志分组", t, func() {
		db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "log.db"))
		So(err, ShouldBeNil)
		defer db.Close()

		var buf bytes.Buffer
		l, err := logger.NewSLogWithWriter(&buf, "info")
		So(err, ShouldBeNil)
		e, err := executor.New(executor.NewDBGateway(db), dialect.NewSQLite(), nil, executor.WithLogger(l))
		So(err, ShouldBeNil)
		defer e.Close()

		r := New(e, nil)
		So(r.CreateTable(context.Background(), schema.NewTable("LOGS", schema.NewString("ID", 36))), ShouldBeNil)
		So(buf.String(), ShouldContainSubstring, "reconcile.operation=createTable")
		So(buf.String(), ShouldNotContainSubstring, "executor.reconcile")
	})
}

func TestStatusString(t *testing.T) {
	Convey("测试状态名", t, func() {
		So(StatusExtendable.String(), ShouldEqual, "EXTENDABLE")
		So(StatusIncompatible.String(), ShouldEqual, "INCOMPATIBLE")
		So(IndexDifferent.String(), ShouldEqual, "DIFFERENT")
		So(FieldStatus(9).String(), ShouldEqual, "UNKNOWN")
	})
}
