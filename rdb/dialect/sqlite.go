package dialect

import (
	"context"
	"database/sql"
	"strings"

	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/hatlonely/rdbx/rdb/errs"
	"github.com/hatlonely/rdbx/rdb/schema"
)

func init() {
	Register("sqlite3", NewSQLite())
}

type SQLite struct {
	base
}

func NewSQLite() *SQLite {
	return &SQLite{base: base{
		name:       "sqlite3",
		driverName: "sqlite3",
		typeNames: TypeNames{
			String:    "VARCHAR",
			Timestamp: "TIMESTAMP",
			Decimal:   "DECIMAL_TEXT",
			Integer:   "BIGINT",
			Binary:    "BLOB",
		},
		quoted:    true,
		forUpdate: "",
		types: typeRenderer{
			String:    func(n int) string { return sized("VARCHAR", n) },
			Timestamp: func() string { return "TIMESTAMP" },
			// 类型名包含 TEXT，列亲和性为 TEXT，按十进制字符串原样保存
			// NUMERIC 亲和性会把数字转成 REAL，只保留 15 位有效数字
			Decimal:   func(p, s int) string { return scaled("DECIMAL_TEXT", p, s) },
			Integer:   func() string { return "BIGINT" },
			Binary: func(n int64) string {
				if n <= 0 {
					return "BLOB"
				}
				return sized("BLOB", int(n))
			},
		},
	}}
}

// ExtendColumn sqlite 不支持修改列类型，重建表：
// 改名为临时表，按新定义建表，拷贝公共列，删除临时表
// 索引随旧表一起删除，由调用方重新同步
func (d *SQLite) ExtendColumn(t *schema.Table, f schema.Field, live []Column) ([]string, error) {
	target, err := d.ColumnDefinition(f)
	if err != nil {
		return nil, err
	}

	old := t.Name + "__OLD"
	var defs []string
	var names []string
	for _, c := range live {
		names = append(names, c.Name)
		if strings.EqualFold(c.Name, f.Name()) {
			defs = append(defs, target)
			continue
		}
		def := c.Name + " " + c.Raw
		if c.Default != nil {
			def += " DEFAULT " + *c.Default
		}
		defs = append(defs, def)
	}
	cols := strings.Join(names, ", ")

	return []string{
		"ALTER TABLE " + t.Name + " RENAME TO " + old,
		"CREATE TABLE " + t.Name + " (" + strings.Join(defs, ", ") + ")",
		"INSERT INTO " + t.Name + " (" + cols + ") SELECT " + cols + " FROM " + old,
		"DROP TABLE " + old,
	}, nil
}

func (d *SQLite) TableExists(ctx context.Context, q Querier, table string) (bool, error) {
	n, err := countRows(ctx, q, "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND UPPER(name) = UPPER(?)", table)
	return n > 0, err
}

func (d *SQLite) Columns(ctx context.Context, q Querier, table string) ([]Column, error) {
	rows, err := q.QueryContext(ctx, "SELECT name, type, dflt_value FROM pragma_table_info(?) ORDER BY cid", table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var name, decl string
		var def sql.NullString
		if err := rows.Scan(&name, &decl, &def); err != nil {
			return nil, err
		}
		typeName, length, scale := parseDeclaredType(decl)
		c := Column{Name: name, TypeName: typeName, Length: length, Scale: scale, Raw: strings.ToUpper(decl)}
		if def.Valid {
			v := def.String
			c.Default = &v
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

func (d *SQLite) Indexes(ctx context.Context, q Querier, table string) ([]IndexInfo, error) {
	list, err := d.indexList(ctx, q, table)
	if err != nil {
		return nil, err
	}

	// 逐个读索引列，前一个结果集关闭后再发下一个查询
	for i := range list {
		rows, err := q.QueryContext(ctx, "SELECT name FROM pragma_index_info(?) ORDER BY seqno", list[i].Name)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var col string
			if err := rows.Scan(&col); err != nil {
				rows.Close()
				return nil, err
			}
			list[i].Columns = append(list[i].Columns, col)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return list, nil
}

func (d *SQLite) indexList(ctx context.Context, q Querier, table string) ([]IndexInfo, error) {
	rows, err := q.QueryContext(ctx, `SELECT name, "unique", origin FROM pragma_index_list(?)`, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []IndexInfo
	for rows.Next() {
		var name, origin string
		var unique int64
		if err := rows.Scan(&name, &unique, &origin); err != nil {
			return nil, err
		}
		// pk 是主键自动索引
		if origin == "pk" {
			continue
		}
		list = append(list, IndexInfo{Name: name, Unique: unique != 0})
	}
	return list, rows.Err()
}

func (d *SQLite) IsTransient(err error) bool {
	if err == nil || errs.IsModel(err) {
		return false
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
	}
	return Transient(err)
}
