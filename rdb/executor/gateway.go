package executor

import (
	"context"
	"database/sql"
	"database/sql/driver"

	"github.com/pkg/errors"
)

// Gateway 连接池网关
type Gateway interface {
	// Acquire 从连接池取一个连接
	Acquire(ctx context.Context) (*sql.Conn, error)
	// Release 归还连接
	Release(conn *sql.Conn) error
	// Refresh 丢弃坏连接，返回一个经过 ping 的新连接，broken 可以为 nil
	Refresh(ctx context.Context, broken *sql.Conn) (*sql.Conn, error)
}

// DBGateway 基于 *sql.DB 连接池的网关
type DBGateway struct {
	db *sql.DB
}

func NewDBGateway(db *sql.DB) *DBGateway {
	return &DBGateway{db: db}
}

func (g *DBGateway) DB() *sql.DB {
	return g.db
}

func (g *DBGateway) Acquire(ctx context.Context) (*sql.Conn, error) {
	conn, err := g.db.Conn(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "db.Conn failed")
	}
	return conn, nil
}

func (g *DBGateway) Release(conn *sql.Conn) error {
	if conn == nil {
		return nil
	}
	if err := conn.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
		return err
	}
	return nil
}

func (g *DBGateway) Refresh(ctx context.Context, broken *sql.Conn) (*sql.Conn, error) {
	if broken != nil {
		evict(broken)
	}

	conn, err := g.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	if err := conn.PingContext(ctx); err != nil {
		evict(conn)
		return nil, errors.Wrap(err, "ping failed")
	}
	return conn, nil
}

// evict 让连接池丢弃这个连接而不是放回空闲列表
func evict(conn *sql.Conn) {
	_ = conn.Raw(func(any) error {
		return driver.ErrBadConn
	})
	_ = conn.Close()
}
