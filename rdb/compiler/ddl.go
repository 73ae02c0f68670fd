package compiler

import (
	"strings"

	"github.com/hatlonely/rdbx/rdb/dialect"
	"github.com/hatlonely/rdbx/rdb/schema"
)

// CreateTable 建表语句，只包含列，索引用 CreateIndex 单独创建
func CreateTable(d dialect.Dialect, t *schema.Table) (string, error) {
	fields := t.StoredFields()
	defs := make([]string, 0, len(fields))
	for _, f := range fields {
		def, err := d.ColumnDefinition(f)
		if err != nil {
			return "", err
		}
		defs = append(defs, def)
	}
	return "CREATE TABLE " + t.Name + " (" + strings.Join(defs, ", ") + ")", nil
}

func AddColumn(d dialect.Dialect, t *schema.Table, f schema.Field) (string, error) {
	def, err := d.ColumnDefinition(f)
	if err != nil {
		return "", err
	}
	return "ALTER TABLE " + t.Name + " ADD COLUMN " + def, nil
}

func CreateIndex(t *schema.Table, idx schema.Index) string {
	var sb strings.Builder
	sb.WriteString("CREATE ")
	if idx.Unique {
		sb.WriteString("UNIQUE ")
	}
	sb.WriteString("INDEX ")
	sb.WriteString(idx.Name)
	sb.WriteString(" ON ")
	sb.WriteString(t.Name)
	sb.WriteString(" (")
	sb.WriteString(strings.Join(idx.Fields, ", "))
	sb.WriteString(")")
	return sb.String()
}

func DropIndex(d dialect.Dialect, table string, name string) string {
	return d.DropIndex(table, name)
}
