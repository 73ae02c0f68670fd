package sequence

import (
	"context"
	"database/sql"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/hatlonely/rdbx/log/logger"
	"github.com/hatlonely/rdbx/rdb/dialect"
	"github.com/hatlonely/rdbx/rdb/errs"
	"github.com/hatlonely/rdbx/rdb/executor"
	"github.com/hatlonely/rdbx/rdb/reconcile"
)

func openDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "seq.db")+"?_txlock=immediate&_busy_timeout=5000")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newDBSequence(t *testing.T, db *sql.DB) *DBSequence {
	e, err := executor.New(executor.NewDBGateway(db), dialect.NewSQLite(), &executor.Options{
		MaxAttempts: 10,
		BaseDelay:   time.Millisecond,
	}, executor.WithLogger(logger.NewNop()))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = e.Close() })
	return NewDBSequenceWithOptions(e, reconcile.New(e, nil), &DBSequenceOptions{})
}

func TestDBSequence(t *testing.T) {
	Convey("测试数据库序列", t, func() {
		ctx := context.Background()
		db := openDB(t)
		q := newDBSequence(t, db)
		So(q.Table().Name, ShouldEqual, "RDB_SEQUENCE")

		ok, err := q.SequenceExists(ctx, "order")
		So(err, ShouldBeNil)
		So(ok, ShouldBeFalse)

		So(q.CreateSequence(ctx, "order", 100), ShouldBeNil)
		ok, err = q.SequenceExists(ctx, "order")
		So(err, ShouldBeNil)
		So(ok, ShouldBeTrue)

		err = q.CreateSequence(ctx, "order", 1)
		So(errors.Is(err, errs.ErrSequenceExists), ShouldBeTrue)
		So(errs.IsTerminal(err), ShouldBeTrue)

		for i := int64(0); i < 3; i++ {
			v, err := q.NextValue(ctx, "order")
			So(err, ShouldBeNil)
			So(v, ShouldEqual, 100+i)
		}

		_, err = q.NextValue(ctx, "missing")
		So(errors.Is(err, errs.ErrSequenceNotFound), ShouldBeTrue)
		So(errs.IsTerminal(err), ShouldBeTrue)

		// 失败之后会话恢复自动提交，后续语句不会落在遗留的事务里
		v, err := q.NextValue(ctx, "order")
		So(err, ShouldBeNil)
		So(v, ShouldEqual, int64(103))

		var stored int64
		So(db.QueryRow("SELECT VALUE FROM RDB_SEQUENCE WHERE NAME = 'order'").Scan(&stored), ShouldBeNil)
		So(stored, ShouldEqual, int64(104))
	})
}

func TestDBSequenceConcurrency(t *testing.T) {
	Convey("测试并发获取序列", t, func() {
		ctx := context.Background()
		db := openDB(t)

		const workers = 4
		const perWorker = 25

		seqs := make([]*DBSequence, workers)
		for i := range seqs {
			seqs[i] = newDBSequence(t, db)
		}
		So(seqs[0].CreateSequence(ctx, "id", 1), ShouldBeNil)

		var mu sync.Mutex
		var values []int64
		var failures []error
		var wg sync.WaitGroup
		for _, q := range seqs {
			wg.Add(1)
			go func(q *DBSequence) {
				defer wg.Done()
				for i := 0; i < perWorker; i++ {
					v, err := q.NextValue(ctx, "id")
					mu.Lock()
					if err != nil {
						failures = append(failures, err)
					} else {
						values = append(values, v)
					}
					mu.Unlock()
				}
			}(q)
		}
		wg.Wait()

		So(failures, ShouldBeEmpty)
		So(len(values), ShouldEqual, workers*perWorker)
		sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })
		for i, v := range values {
			So(v, ShouldEqual, int64(i+1))
		}
	})
}

func TestRedisSequence(t *testing.T) {
	Convey("测试 redis 序列", t, func() {
		ctx := context.Background()
		mr := miniredis.RunT(t)

		q, err := NewRedisSequenceWithOptions(&RedisSequenceOptions{Endpoint: mr.Addr()})
		So(err, ShouldBeNil)
		defer q.Close()

		ok, err := q.SequenceExists(ctx, "order")
		So(err, ShouldBeNil)
		So(ok, ShouldBeFalse)

		So(q.CreateSequence(ctx, "order", 100), ShouldBeNil)
		err = q.CreateSequence(ctx, "order", 1)
		So(errors.Is(err, errs.ErrSequenceExists), ShouldBeTrue)

		ok, _ = q.SequenceExists(ctx, "order")
		So(ok, ShouldBeTrue)

		for i := int64(0); i < 3; i++ {
			v, err := q.NextValue(ctx, "order")
			So(err, ShouldBeNil)
			So(v, ShouldEqual, 100+i)
		}
		So(mr.Exists("rdb:sequence:order"), ShouldBeTrue)

		_, err = q.NextValue(ctx, "missing")
		So(errors.Is(err, errs.ErrSequenceNotFound), ShouldBeTrue)
		So(mr.Exists("rdb:sequence:missing"), ShouldBeFalse)

		_, err = NewRedisSequenceWithOptions(&RedisSequenceOptions{})
		So(err, ShouldNotBeNil)
	})

	Convey("测试 redis 序列并发", t, func() {
		ctx := context.Background()
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		defer client.Close()

		q := NewRedisSequence(client, "")
		So(q.CreateSequence(ctx, "id", 1), ShouldBeNil)

		var mu sync.Mutex
		seen := map[int64]bool{}
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 10; j++ {
					v, err := q.NextValue(ctx, "id")
					if err != nil {
						continue
					}
					mu.Lock()
					seen[v] = true
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		So(len(seen), ShouldEqual, 100)
		for v := int64(1); v <= 100; v++ {
			So(seen[v], ShouldBeTrue)
		}
	})
}
