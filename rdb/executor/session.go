package executor

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/hatlonely/rdbx/rdb/compiler"
	"github.com/hatlonely/rdbx/rdb/dialect"
)

// Session 执行单元看到的会话，包装当前连接和自动提交状态
// 关闭自动提交后，下一条语句开启事务，直到 Commit/Rollback 或重新打开自动提交
type Session struct {
	conn       *sql.Conn
	tx         *sql.Tx
	autoCommit bool
	dialect    dialect.Dialect
	lastQuery  string
}

func newSession(d dialect.Dialect) *Session {
	return &Session{autoCommit: true, dialect: d}
}

func (s *Session) Dialect() dialect.Dialect {
	return s.dialect
}

func (s *Session) AutoCommit() bool {
	return s.autoCommit
}

// InTx 是否有未提交的事务
func (s *Session) InTx() bool {
	return s.tx != nil
}

// SetAutoCommit 打开自动提交时提交挂起的事务
func (s *Session) SetAutoCommit(on bool) error {
	if on == s.autoCommit {
		return nil
	}
	s.autoCommit = on
	if on {
		return s.Commit()
	}
	return nil
}

func (s *Session) Commit() error {
	if s.tx == nil {
		return nil
	}
	tx := s.tx
	s.tx = nil
	return errors.Wrap(tx.Commit(), "commit failed")
}

func (s *Session) Rollback() error {
	if s.tx == nil {
		return nil
	}
	tx := s.tx
	s.tx = nil
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return errors.Wrap(err, "rollback failed")
	}
	return nil
}

// reset 换成新连接，旧连接上的事务已经没有意义
func (s *Session) reset(conn *sql.Conn) {
	if s.tx != nil {
		_ = s.tx.Rollback()
		s.tx = nil
	}
	s.conn = conn
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

func (s *Session) target(ctx context.Context) (execer, error) {
	if s.conn == nil {
		return nil, errors.Wrap(sql.ErrConnDone, "session has no connection")
	}
	if s.autoCommit {
		if s.tx != nil {
			return s.tx, nil
		}
		return s.conn, nil
	}
	if s.tx == nil {
		tx, err := s.conn.BeginTx(ctx, nil)
		if err != nil {
			return nil, errors.Wrap(err, "begin failed")
		}
		s.tx = tx
	}
	return s.tx, nil
}

// ExecContext 执行语句，? 占位符按方言改写
func (s *Session) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	t, err := s.target(ctx)
	if err != nil {
		return nil, err
	}
	s.lastQuery = query
	return t.ExecContext(ctx, s.dialect.Rebind(query), args...)
}

func (s *Session) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	t, err := s.target(ctx)
	if err != nil {
		return nil, err
	}
	s.lastQuery = query
	return t.QueryContext(ctx, s.dialect.Rebind(query), args...)
}

// PrepareContext 预编译语句，事务打开时预编译在事务上，语句的生命周期不能超过事务
func (s *Session) PrepareContext(ctx context.Context, query string) (*sql.Stmt, error) {
	t, err := s.target(ctx)
	if err != nil {
		return nil, err
	}
	s.lastQuery = query
	return t.PrepareContext(ctx, s.dialect.Rebind(query))
}

func (s *Session) Exec(ctx context.Context, stmt compiler.Statement) (sql.Result, error) {
	return s.ExecContext(ctx, stmt.SQL, stmt.Args...)
}

func (s *Session) Query(ctx context.Context, stmt compiler.Statement) (*sql.Rows, error) {
	return s.QueryContext(ctx, stmt.SQL, stmt.Args...)
}

// LastQuery 最近一次执行的语句
func (s *Session) LastQuery() string {
	return s.lastQuery
}
