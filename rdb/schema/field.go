package schema

import (
	"github.com/hatlonely/rdbx/rdb/errs"
)

// Field 字段定义，封闭的和类型，只能是本包里的几种字段
// 新增一种字段需要在 FieldVisitor 上加一个方法，所有访问者在编译期就会报错
type Field interface {
	Name() string
	Accept(v FieldVisitor) error

	sealed()
}

// FieldVisitor 字段访问者，每种字段一个方法
type FieldVisitor interface {
	VisitString(f *StringField) error
	VisitTimestamp(f *TimestampField) error
	VisitDecimal(f *DecimalField) error
	VisitInteger(f *IntegerField) error
	VisitBinary(f *BinaryField) error
	VisitExternal(f *ExternalField) error
}

// StringField 字符串字段
type StringField struct {
	name      string
	maxLength int
	def       *string
}

func NewString(name string, maxLength int) *StringField {
	return &StringField{name: name, maxLength: maxLength}
}

// NewStringWithDefault 带默认值的字符串字段
func NewStringWithDefault(name string, maxLength int, def string) *StringField {
	return &StringField{name: name, maxLength: maxLength, def: &def}
}

func (f *StringField) Name() string   { return f.name }
func (f *StringField) MaxLength() int { return f.maxLength }

// Default 默认值，没有默认值时 ok 为 false
func (f *StringField) Default() (string, bool) {
	if f.def == nil {
		return "", false
	}
	return *f.def, true
}

func (f *StringField) Accept(v FieldVisitor) error { return v.VisitString(f) }
func (f *StringField) sealed()                     {}

// TimestampField 时间戳字段
type TimestampField struct {
	name string
}

func NewTimestamp(name string) *TimestampField {
	return &TimestampField{name: name}
}

func (f *TimestampField) Name() string                { return f.name }
func (f *TimestampField) Accept(v FieldVisitor) error { return v.VisitTimestamp(f) }
func (f *TimestampField) sealed()                     {}

// DecimalField 定点数字段，precision 为总位数，scale 为小数位数
type DecimalField struct {
	name      string
	precision int
	scale     int
}

func NewDecimal(name string, precision int, scale int) *DecimalField {
	return &DecimalField{name: name, precision: precision, scale: scale}
}

func (f *DecimalField) Name() string                { return f.name }
func (f *DecimalField) Precision() int              { return f.precision }
func (f *DecimalField) Scale() int                  { return f.scale }
func (f *DecimalField) Accept(v FieldVisitor) error { return v.VisitDecimal(f) }
func (f *DecimalField) sealed()                     {}

// IntegerField 整数字段
type IntegerField struct {
	name string
	def  *int64
}

func NewInteger(name string) *IntegerField {
	return &IntegerField{name: name}
}

func NewIntegerWithDefault(name string, def int64) *IntegerField {
	return &IntegerField{name: name, def: &def}
}

func (f *IntegerField) Name() string { return f.name }

func (f *IntegerField) Default() (int64, bool) {
	if f.def == nil {
		return 0, false
	}
	return *f.def, true
}

func (f *IntegerField) Accept(v FieldVisitor) error { return v.VisitInteger(f) }
func (f *IntegerField) sealed()                     {}

// BinaryField 大二进制字段，maxSize 为 0 时使用数据库默认大小
type BinaryField struct {
	name    string
	maxSize int64
}

func NewBinary(name string, maxSize int64) *BinaryField {
	return &BinaryField{name: name, maxSize: maxSize}
}

func (f *BinaryField) Name() string                { return f.name }
func (f *BinaryField) MaxSize() int64              { return f.maxSize }
func (f *BinaryField) Accept(v FieldVisitor) error { return v.VisitBinary(f) }
func (f *BinaryField) sealed()                     {}

// ExternalField 虚拟字段，由一个或多个实际存储的字段组成，本身不落库
type ExternalField struct {
	name   string
	fields []Field
}

// NewExternal 创建虚拟字段，底层字段列表不能为空
func NewExternal(name string, fields ...Field) (*ExternalField, error) {
	if len(fields) == 0 {
		return nil, errs.NewModel("", name, nil, "external field %s has no underlying field", name)
	}
	for _, f := range fields {
		if _, ok := f.(*ExternalField); ok {
			return nil, errs.NewModel("", name, nil, "external field %s cannot be backed by external field %s", name, f.Name())
		}
	}
	return &ExternalField{name: name, fields: append([]Field(nil), fields...)}, nil
}

// MustExternal 同 NewExternal，出错时 panic，用于静态声明
func MustExternal(name string, fields ...Field) *ExternalField {
	f, err := NewExternal(name, fields...)
	if err != nil {
		panic(err)
	}
	return f
}

func (f *ExternalField) Name() string { return f.name }

// Fields 底层字段
func (f *ExternalField) Fields() []Field {
	return append([]Field(nil), f.fields...)
}

func (f *ExternalField) Accept(v FieldVisitor) error { return v.VisitExternal(f) }
func (f *ExternalField) sealed()                     {}

// IsStored 字段是否实际落库
func IsStored(f Field) bool {
	_, external := f.(*ExternalField)
	return !external
}

// KindName 字段类型名，用于错误信息
func KindName(f Field) string {
	var k kindNamer
	_ = f.Accept(&k)
	return k.name
}

type kindNamer struct {
	name string
}

func (k *kindNamer) VisitString(*StringField) error       { k.name = "string"; return nil }
func (k *kindNamer) VisitTimestamp(*TimestampField) error { k.name = "timestamp"; return nil }
func (k *kindNamer) VisitDecimal(*DecimalField) error     { k.name = "decimal"; return nil }
func (k *kindNamer) VisitInteger(*IntegerField) error     { k.name = "integer"; return nil }
func (k *kindNamer) VisitBinary(*BinaryField) error       { k.name = "binary"; return nil }
func (k *kindNamer) VisitExternal(*ExternalField) error   { k.name = "external"; return nil }
