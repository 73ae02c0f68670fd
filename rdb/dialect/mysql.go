package dialect

import (
	"context"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"

	"github.com/hatlonely/rdbx/rdb/errs"
	"github.com/hatlonely/rdbx/rdb/schema"
)

func init() {
	Register("mysql", NewMySQL())
}

// mysql 服务端错误码
// https://dev.mysql.com/doc/mysql-errors/8.0/en/server-error-reference.html
var mysqlTransientCodes = map[uint16]struct{}{
	1040: {}, // ER_CON_COUNT_ERROR
	1053: {}, // ER_SERVER_SHUTDOWN
	1205: {}, // ER_LOCK_WAIT_TIMEOUT
	1213: {}, // ER_LOCK_DEADLOCK
	1927: {}, // ER_CONNECTION_KILLED
	2006: {}, // CR_SERVER_GONE_ERROR
	2013: {}, // CR_SERVER_LOST
	3024: {}, // ER_QUERY_TIMEOUT
}

type MySQL struct {
	base
}

func NewMySQL() *MySQL {
	return &MySQL{base: base{
		name:       "mysql",
		driverName: "mysql",
		typeNames: TypeNames{
			String:    "VARCHAR",
			Timestamp: "DATETIME",
			Decimal:   "DECIMAL",
			Integer:   "BIGINT",
			Binary:    "LONGBLOB",
		},
		quoted:    false,
		forUpdate: " FOR UPDATE",
		types: typeRenderer{
			String:    func(n int) string { return sized("VARCHAR", n) },
			Timestamp: func() string { return "DATETIME" },
			Decimal:   func(p, s int) string { return scaled("DECIMAL", p, s) },
			Integer:   func() string { return "BIGINT" },
			// BLOB(n) 会被 mysql 改写成不同的类型名，统一用 LONGBLOB
			Binary: func(int64) string { return "LONGBLOB" },
		},
	}}
}

func (d *MySQL) DropIndex(table string, name string) string {
	return "DROP INDEX " + name + " ON " + table
}

func (d *MySQL) ExtendColumn(t *schema.Table, f schema.Field, live []Column) ([]string, error) {
	def, err := d.ColumnDefinition(f)
	if err != nil {
		return nil, err
	}
	return []string{"ALTER TABLE " + t.Name + " MODIFY COLUMN " + def}, nil
}

func (d *MySQL) TableExists(ctx context.Context, q Querier, table string) (bool, error) {
	n, err := countRows(ctx, q,
		"SELECT COUNT(*) FROM information_schema.TABLES WHERE TABLE_SCHEMA = DATABASE() AND UPPER(TABLE_NAME) = UPPER(?)",
		table)
	return n > 0, err
}

func (d *MySQL) Columns(ctx context.Context, q Querier, table string) ([]Column, error) {
	return scanColumns(ctx, q, `SELECT COLUMN_NAME AS name, DATA_TYPE AS type_name,
  COALESCE(CHARACTER_MAXIMUM_LENGTH, NUMERIC_PRECISION, 0) AS length,
  COALESCE(NUMERIC_SCALE, 0) AS scale,
  COLUMN_DEFAULT AS default_value,
  UPPER(COLUMN_TYPE) AS raw
FROM information_schema.COLUMNS
WHERE TABLE_SCHEMA = DATABASE() AND UPPER(TABLE_NAME) = UPPER(?)
ORDER BY ORDINAL_POSITION`, table)
}

func (d *MySQL) Indexes(ctx context.Context, q Querier, table string) ([]IndexInfo, error) {
	rows, err := q.QueryContext(ctx, `SELECT INDEX_NAME, COLUMN_NAME, NON_UNIQUE
FROM information_schema.STATISTICS
WHERE TABLE_SCHEMA = DATABASE() AND UPPER(TABLE_NAME) = UPPER(?)
ORDER BY INDEX_NAME, SEQ_IN_INDEX`, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var irs []indexRow
	for rows.Next() {
		var r indexRow
		var nonUnique int64
		if err := rows.Scan(&r.IndexName, &r.ColumnName, &nonUnique); err != nil {
			return nil, err
		}
		if strings.EqualFold(r.IndexName, "PRIMARY") {
			continue
		}
		r.Unique = nonUnique == 0
		irs = append(irs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return groupIndexes(irs), nil
}

func (d *MySQL) IsTransient(err error) bool {
	if err == nil || errs.IsModel(err) {
		return false
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		_, ok := mysqlTransientCodes[me.Number]
		return ok
	}
	if errors.Is(err, mysql.ErrInvalidConn) || errors.Is(err, mysql.ErrMalformPkt) {
		return true
	}
	return Transient(err)
}
