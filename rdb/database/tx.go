package database

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/hatlonely/rdbx/rdb/compiler"
	"github.com/hatlonely/rdbx/rdb/cursor"
	"github.com/hatlonely/rdbx/rdb/errs"
	"github.com/hatlonely/rdbx/rdb/executor"
	"github.com/hatlonely/rdbx/rdb/query"
	"github.com/hatlonely/rdbx/rdb/schema"
)

// Tx WithTx 里使用的事务，直接在当前会话上执行，不单独重试
type Tx struct {
	session   *executor.Session
	batchSize int
}

func (tx *Tx) Session() *executor.Session {
	return tx.session
}

func (tx *Tx) Insert(ctx context.Context, t *schema.Table, row schema.Row) error {
	stmt, err := compiler.Insert(t, row)
	if err != nil {
		return err
	}
	_, err = exec(ctx, tx.session, stmt)
	return err
}

func (tx *Tx) MassiveInsert(ctx context.Context, t *schema.Table, rows []schema.Row) error {
	stmts, err := compiler.MassiveInsert(t, rows, tx.batchSize)
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		if _, err := exec(ctx, tx.session, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (tx *Tx) Update(ctx context.Context, t *schema.Table, fields []schema.Field, row schema.Row, where query.Condition) (int64, error) {
	stmt, err := compiler.Update(t, fields, row, where)
	if err != nil {
		return 0, err
	}
	return exec(ctx, tx.session, stmt)
}

func (tx *Tx) Delete(ctx context.Context, t *schema.Table, where query.Condition) (int64, error) {
	stmt, err := compiler.Delete(t, where)
	if err != nil {
		return 0, err
	}
	return exec(ctx, tx.session, stmt)
}

func (tx *Tx) Rows(ctx context.Context, sel *compiler.Select, t *schema.Table, alias string) ([]schema.Row, error) {
	stmt, err := sel.Compile()
	if err != nil {
		return nil, err
	}
	return collect(ctx, tx.session, stmt, t, alias)
}

func (tx *Tx) Get(ctx context.Context, t *schema.Table, where query.Condition) (schema.Row, error) {
	rows, err := tx.Rows(ctx, &compiler.Select{
		Tables: []compiler.TableRef{{Table: t, AllFields: true}},
		Where:  where,
		Limit:  1,
	}, t, "")
	if err != nil {
		return nil, err
	}
	return first(t, rows)
}

func (tx *Tx) Count(ctx context.Context, sel *compiler.Select) (int64, error) {
	stmt, err := sel.CompileCount()
	if err != nil {
		return 0, err
	}
	return count(ctx, tx.session, stmt)
}

// inTx 关闭自动提交执行 fn，成功提交，失败回滚，最后恢复原来的提交模式
func inTx[T any](ctx context.Context, e *executor.Executor, name string, q string, fn func(ctx context.Context, s *executor.Session) (T, error)) (T, error) {
	return executor.Execute(ctx, e, executor.Work[T]{
		Name:   name,
		Query:  q,
		Policy: executor.Policy{ForceAutoCommit: true, RequiresRollback: true},
		Run: func(ctx context.Context, s *executor.Session) (result T, err error) {
			prev := s.AutoCommit()
			if err := s.SetAutoCommit(false); err != nil {
				return result, err
			}
			defer func() {
				if r := recover(); r != nil {
					_ = s.Rollback()
					_ = s.SetAutoCommit(prev)
					panic(r)
				}
				if err != nil {
					_ = s.Rollback()
				}
				if serr := s.SetAutoCommit(prev); serr != nil && err == nil {
					err = serr
				}
			}()

			result, err = fn(ctx, s)
			if err != nil {
				return result, err
			}
			return result, s.Commit()
		},
	})
}

func exec(ctx context.Context, s *executor.Session, stmt compiler.Statement) (int64, error) {
	res, err := s.Exec(ctx, stmt)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "RowsAffected failed")
	}
	return n, nil
}

// execPrepared 相同的 SQL 只预编译一次，语句在事务结束前关闭
func execPrepared(ctx context.Context, s *executor.Session, stmts []compiler.Statement) (int64, error) {
	prepared := map[string]*sql.Stmt{}
	defer func() {
		for _, p := range prepared {
			_ = p.Close()
		}
	}()

	var total int64
	for _, stmt := range stmts {
		p, ok := prepared[stmt.SQL]
		if !ok {
			var err error
			if p, err = s.PrepareContext(ctx, stmt.SQL); err != nil {
				return 0, err
			}
			prepared[stmt.SQL] = p
		}
		res, err := p.ExecContext(ctx, stmt.Args...)
		if err != nil {
			return 0, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, errors.Wrap(err, "RowsAffected failed")
		}
		total += n
	}
	return total, nil
}

func count(ctx context.Context, s *executor.Session, stmt compiler.Statement) (int64, error) {
	rows, err := s.Query(ctx, stmt)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	var n int64
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return 0, err
		}
	}
	return n, rows.Err()
}

func collect(ctx context.Context, s *executor.Session, stmt compiler.Statement, t *schema.Table, alias string) ([]schema.Row, error) {
	rows, err := s.Query(ctx, stmt)
	if err != nil {
		return nil, err
	}
	c, err := cursor.New(rows)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	var result []schema.Row
	for c.Next() {
		row, err := c.Row(t, alias)
		if err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	return result, c.Err()
}

func first(t *schema.Table, rows []schema.Row) (schema.Row, error) {
	if len(rows) == 0 {
		return nil, errs.NewTerminal("get", "", errors.Wrapf(errs.ErrRecordNotFound, "table %s", t.Name))
	}
	return rows[0], nil
}

// keyCondition 按主键字段定位一行
func keyCondition(t *schema.Table, keys []schema.Field, row schema.Row) (query.Condition, error) {
	conds := make([]query.Condition, 0, len(keys))
	for _, k := range keys {
		v, ok := row.Get(k.Name())
		if !ok || v == nil {
			return nil, errs.NewModel(t.Name, k.Name(), nil, "key field %s missing in row", k.Name())
		}
		conds = append(conds, query.Eq("", k, v))
	}
	return query.AndOf(conds...), nil
}

func isKey(keys []schema.Field, f schema.Field) bool {
	for _, k := range keys {
		if k.Name() == f.Name() {
			return true
		}
	}
	return false
}

// massiveUpdate 每行只更新行里出现的非主键字段
func massiveUpdate(t *schema.Table, keys []schema.Field, rows []schema.Row) ([]compiler.Statement, error) {
	if len(keys) == 0 {
		return nil, errs.NewModel(t.Name, "", nil, "massive update without key")
	}
	stmts := make([]compiler.Statement, 0, len(rows))
	for _, row := range rows {
		var fields []schema.Field
		for _, f := range t.StoredFields() {
			if isKey(keys, f) {
				continue
			}
			if _, ok := row.Get(f.Name()); ok {
				fields = append(fields, f)
			}
		}
		where, err := keyCondition(t, keys, row)
		if err != nil {
			return nil, err
		}
		stmt, err := compiler.Update(t, fields, row, where)
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, stmt)
	}
	return stmts, nil
}

func massiveDelete(t *schema.Table, keys []schema.Field, rows []schema.Row) ([]compiler.Statement, error) {
	if len(keys) == 0 {
		return nil, errs.NewModel(t.Name, "", nil, "massive delete without key")
	}
	stmts := make([]compiler.Statement, 0, len(rows))
	for _, row := range rows {
		where, err := keyCondition(t, keys, row)
		if err != nil {
			return nil, err
		}
		stmt, err := compiler.Delete(t, where)
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, stmt)
	}
	return stmts, nil
}
