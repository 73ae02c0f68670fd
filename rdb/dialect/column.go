package dialect

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/hatlonely/rdbx/rdb/errs"
	"github.com/hatlonely/rdbx/rdb/schema"
)

// typeRenderer 方言的列类型渲染
type typeRenderer struct {
	String    func(maxLength int) string
	Timestamp func() string
	Decimal   func(precision, scale int) string
	Integer   func() string
	Binary    func(maxSize int64) string
}

type columnTypeVisitor struct {
	render typeRenderer
	sql    string
}

func (v *columnTypeVisitor) VisitString(f *schema.StringField) error {
	v.sql = v.render.String(f.MaxLength())
	return nil
}

func (v *columnTypeVisitor) VisitTimestamp(f *schema.TimestampField) error {
	v.sql = v.render.Timestamp()
	return nil
}

func (v *columnTypeVisitor) VisitDecimal(f *schema.DecimalField) error {
	v.sql = v.render.Decimal(f.Precision(), f.Scale())
	return nil
}

func (v *columnTypeVisitor) VisitInteger(f *schema.IntegerField) error {
	v.sql = v.render.Integer()
	return nil
}

func (v *columnTypeVisitor) VisitBinary(f *schema.BinaryField) error {
	v.sql = v.render.Binary(f.MaxSize())
	return nil
}

func (v *columnTypeVisitor) VisitExternal(f *schema.ExternalField) error {
	return errs.NewModel("", f.Name(), errs.ErrUnsupportedKind, "external field %s has no column", f.Name())
}

// defaultLiteral 列定义里的默认值
func defaultLiteral(f schema.Field, quote func(string) string) (string, bool) {
	switch t := f.(type) {
	case *schema.StringField:
		if d, ok := t.Default(); ok {
			return quote(d), true
		}
	case *schema.IntegerField:
		if d, ok := t.Default(); ok {
			return strconv.FormatInt(d, 10), true
		}
	}
	return "", false
}

func sized(name string, n int) string {
	return name + "(" + strconv.Itoa(n) + ")"
}

func scaled(name string, p, s int) string {
	return name + "(" + strconv.Itoa(p) + "," + strconv.Itoa(s) + ")"
}

var declaredTypeRe = regexp.MustCompile(`^\s*([A-Za-z][A-Za-z0-9_ ]*?)\s*(?:\(\s*(\d+)\s*(?:,\s*(\d+)\s*)?\))?\s*$`)

// parseDeclaredType 解析 VARCHAR(40) / DECIMAL(10,2) 这样的类型声明
func parseDeclaredType(decl string) (name string, length int64, scale int64) {
	m := declaredTypeRe.FindStringSubmatch(decl)
	if m == nil {
		return strings.ToUpper(strings.TrimSpace(decl)), 0, 0
	}
	name = strings.ToUpper(m[1])
	if m[2] != "" {
		length, _ = strconv.ParseInt(m[2], 10, 64)
	}
	if m[3] != "" {
		scale, _ = strconv.ParseInt(m[3], 10, 64)
	}
	return name, length, scale
}
