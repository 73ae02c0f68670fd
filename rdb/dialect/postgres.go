package dialect

import (
	"context"
	"regexp"
	"strings"

	"github.com/jackc/pgconn"
	_ "github.com/jackc/pgx/v4/stdlib"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/hatlonely/rdbx/rdb/errs"
	"github.com/hatlonely/rdbx/rdb/schema"
)

func init() {
	Register("postgres", NewPostgres("pgx"))
	Register("pq", NewPostgres("postgres"))
}

// bytea 没有长度，按 1G 处理
const postgresByteaSize = 1 << 30

// postgres SQLSTATE
// https://www.postgresql.org/docs/current/errcodes-appendix.html
var postgresTransientCodes = map[string]struct{}{
	"40001": {}, // serialization_failure
	"40P01": {}, // deadlock_detected
	"55P03": {}, // lock_not_available
	"57P01": {}, // admin_shutdown
	"57P02": {}, // crash_shutdown
	"57P03": {}, // cannot_connect_now
	"53300": {}, // too_many_connections
}

var (
	postgresCastRe    = regexp.MustCompile(`^(.*?)::([a-zA-Z0-9_ ]+)(\[\])?$`)
	postgresNumericRe = regexp.MustCompile(`^-?\d+(\.\d+)?$`)
)

// postgresNumericCasts 数值类型的强制转换，默认值里的引号可以去掉
var postgresNumericCasts = map[string]bool{
	"smallint": true, "integer": true, "bigint": true, "numeric": true,
	"int2": true, "int4": true, "int8": true, "real": true, "double precision": true,
}

type Postgres struct {
	base
}

// NewPostgres driverName 为 pgx（jackc/pgx stdlib）或 postgres（lib/pq）
func NewPostgres(driverName string) *Postgres {
	return &Postgres{base: base{
		name:       "postgres",
		driverName: driverName,
		typeNames: TypeNames{
			String:    "VARCHAR",
			Timestamp: "TIMESTAMP",
			Decimal:   "NUMERIC",
			Integer:   "INT8",
			Binary:    "BYTEA",
		},
		quoted:    true,
		forUpdate: " FOR UPDATE",
		types: typeRenderer{
			String:    func(n int) string { return sized("VARCHAR", n) },
			Timestamp: func() string { return "TIMESTAMP" },
			Decimal:   func(p, s int) string { return scaled("NUMERIC", p, s) },
			Integer:   func() string { return "BIGINT" },
			Binary:    func(int64) string { return "BYTEA" },
		},
	}}
}

func (d *Postgres) ExtendColumn(t *schema.Table, f schema.Field, live []Column) ([]string, error) {
	typ, err := d.ColumnType(f)
	if err != nil {
		return nil, err
	}
	return []string{"ALTER TABLE " + t.Name + " ALTER COLUMN " + f.Name() + " TYPE " + typ}, nil
}

func (d *Postgres) TableExists(ctx context.Context, q Querier, table string) (bool, error) {
	n, err := countRows(ctx, q, d.Rebind(
		"SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = current_schema() AND UPPER(table_name) = UPPER(?)"),
		table)
	return n > 0, err
}

func (d *Postgres) Columns(ctx context.Context, q Querier, table string) ([]Column, error) {
	cols, err := scanColumns(ctx, q, d.Rebind(`SELECT column_name AS name, udt_name AS type_name,
  COALESCE(character_maximum_length, numeric_precision, 0) AS length,
  COALESCE(numeric_scale, 0) AS scale,
  column_default AS default_value,
  UPPER(data_type) AS raw
FROM information_schema.columns
WHERE table_schema = current_schema() AND UPPER(table_name) = UPPER(?)
ORDER BY ordinal_position`), table)
	if err != nil {
		return nil, err
	}
	for i := range cols {
		if cols[i].TypeName == "BYTEA" && cols[i].Length == 0 {
			cols[i].Length = postgresByteaSize
		}
		if cols[i].Default != nil {
			v := stripCast(*cols[i].Default)
			cols[i].Default = &v
		}
	}
	return cols, nil
}

// stripCast 'abc'::character varying -> 'abc'
// 数值类型去掉引号和括号：'-5'::bigint -> -5，(-5) -> -5
func stripCast(def string) string {
	m := postgresCastRe.FindStringSubmatch(def)
	if m == nil {
		return unwrapNumeric(def, "(", ")")
	}
	if postgresNumericCasts[strings.ToLower(strings.TrimSpace(m[2]))] && m[3] == "" {
		return unwrapNumeric(unwrapNumeric(m[1], "'", "'"), "(", ")")
	}
	return m[1]
}

func unwrapNumeric(s, open, close string) string {
	if len(s) < 2 || !strings.HasPrefix(s, open) || !strings.HasSuffix(s, close) {
		return s
	}
	if inner := s[len(open) : len(s)-len(close)]; postgresNumericRe.MatchString(inner) {
		return inner
	}
	return s
}

func (d *Postgres) Indexes(ctx context.Context, q Querier, table string) ([]IndexInfo, error) {
	rows, err := q.QueryContext(ctx, d.Rebind(`SELECT i.relname, a.attname, ix.indisunique
FROM pg_class t
JOIN pg_index ix ON t.oid = ix.indrelid
JOIN pg_class i ON i.oid = ix.indexrelid
JOIN LATERAL unnest(ix.indkey::int2[]) WITH ORDINALITY AS k(attnum, ord) ON TRUE
JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = k.attnum
WHERE UPPER(t.relname) = UPPER(?) AND t.relkind = 'r' AND NOT ix.indisprimary
ORDER BY i.relname, k.ord`), table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var irs []indexRow
	for rows.Next() {
		var r indexRow
		if err := rows.Scan(&r.IndexName, &r.ColumnName, &r.Unique); err != nil {
			return nil, err
		}
		irs = append(irs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return groupIndexes(irs), nil
}

func (d *Postgres) IsTransient(err error) bool {
	if err == nil || errs.IsModel(err) {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return postgresCode(pgErr.Code)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return postgresCode(string(pqErr.Code))
	}
	if pgconn.SafeToRetry(err) {
		return true
	}
	return Transient(err)
}

func postgresCode(code string) bool {
	// 08 connection_exception
	if strings.HasPrefix(code, "08") {
		return true
	}
	_, ok := postgresTransientCodes[code]
	return ok
}
