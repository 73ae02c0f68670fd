package compiler

import (
	"math"
	"reflect"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/hatlonely/rdbx/rdb/errs"
	"github.com/hatlonely/rdbx/rdb/query"
	"github.com/hatlonely/rdbx/rdb/schema"
)

// BindValue 将条件里的值转换为驱动认识的参数
// 字符串、枚举、时间段、时间、标识符、二进制、整数、浮点数、定点数，其余类型报模型错误
// nil 指针、切片、map 都绑定为 NULL
func BindValue(v any) (any, error) {
	if query.IsNullValue(v) {
		return nil, nil
	}
	switch t := v.(type) {
	case schema.Choice:
		return t.Code(), nil
	case string:
		return t, nil
	case schema.Period:
		return t.Encode(), nil
	case time.Time:
		return t, nil
	case schema.ID:
		return t.String(), nil
	case []byte:
		return t, nil
	case decimal.Decimal:
		return t.String(), nil
	case bool:
		if t {
			return int64(1), nil
		}
		return int64(0), nil
	case int:
		return int64(t), nil
	case int8:
		return int64(t), nil
	case int16:
		return int64(t), nil
	case int32:
		return int64(t), nil
	case int64:
		return t, nil
	case uint:
		return bindUint(uint64(t))
	case uint8:
		return int64(t), nil
	case uint16:
		return int64(t), nil
	case uint32:
		return int64(t), nil
	case uint64:
		return bindUint(t)
	case float32:
		return float64(t), nil
	case float64:
		return t, nil
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Ptr {
		return BindValue(rv.Elem().Interface())
	}
	return nil, errors.Wrapf(errs.ErrUnsupportedKind, "cannot bind go type %T", v)
}

func bindUint(n uint64) (any, error) {
	if n > math.MaxInt64 {
		return nil, errors.Wrapf(errs.ErrUnsupportedKind, "uint64 %d overflows int64", n)
	}
	return int64(n), nil
}

// BindRow 按字段类型绑定一行数据，返回的参数顺序与 fields 一致
// 行里没有的字段使用字段默认值，没有默认值绑定 NULL
func BindRow(t *schema.Table, fields []schema.Field, row schema.Row) ([]any, error) {
	args := make([]any, 0, len(fields))
	for _, f := range fields {
		value, ok := row.Get(f.Name())
		if !ok {
			value = fieldDefault(f)
		}
		fb := &fieldBinder{value: value}
		if err := f.Accept(fb); err != nil {
			return nil, errs.NewModel(t.Name, f.Name(), err, "field kind %s, go type %T", schema.KindName(f), value)
		}
		args = append(args, fb.arg)
	}
	return args, nil
}

func fieldDefault(f schema.Field) any {
	switch t := f.(type) {
	case *schema.StringField:
		if d, ok := t.Default(); ok {
			return d
		}
	case *schema.IntegerField:
		if d, ok := t.Default(); ok {
			return d
		}
	}
	return nil
}

// fieldBinder 根据字段类型检查并转换值
type fieldBinder struct {
	value any
	arg   any
}

func (b *fieldBinder) bind() (any, error) {
	return BindValue(b.value)
}

func (b *fieldBinder) VisitString(f *schema.StringField) error {
	v, err := b.bind()
	if err != nil {
		return err
	}
	switch v.(type) {
	case nil, string:
		b.arg = v
		return nil
	}
	return errs.ErrUnsupportedKind
}

func (b *fieldBinder) VisitTimestamp(f *schema.TimestampField) error {
	v, err := b.bind()
	if err != nil {
		return err
	}
	switch t := v.(type) {
	case nil:
		b.arg = nil
		return nil
	case time.Time:
		if t.IsZero() {
			b.arg = nil
			return nil
		}
		b.arg = t.UTC()
		return nil
	}
	return errs.ErrUnsupportedKind
}

// VisitDecimal 按 scale 舍入后以十进制字符串绑定，不经过 float64
func (b *fieldBinder) VisitDecimal(f *schema.DecimalField) error {
	v, err := b.bind()
	if err != nil {
		return err
	}
	var d decimal.Decimal
	switch t := v.(type) {
	case nil:
		b.arg = nil
		return nil
	case string:
		d, err = decimal.NewFromString(t)
		if err != nil {
			return errors.Wrapf(errs.ErrUnsupportedKind, "invalid decimal %q", t)
		}
	case int64:
		d = decimal.NewFromInt(t)
	case float64:
		d = decimal.NewFromFloat(t)
	default:
		return errs.ErrUnsupportedKind
	}
	b.arg = d.Round(int32(f.Scale())).String()
	return nil
}

func (b *fieldBinder) VisitInteger(f *schema.IntegerField) error {
	v, err := b.bind()
	if err != nil {
		return err
	}
	switch v.(type) {
	case nil, int64:
		b.arg = v
		return nil
	}
	return errs.ErrUnsupportedKind
}

func (b *fieldBinder) VisitBinary(f *schema.BinaryField) error {
	v, err := b.bind()
	if err != nil {
		return err
	}
	switch v.(type) {
	case nil, []byte:
		b.arg = v
		return nil
	}
	return errs.ErrUnsupportedKind
}

func (b *fieldBinder) VisitExternal(f *schema.ExternalField) error {
	return errors.Wrapf(errs.ErrUnsupportedKind, "external field %s is not stored", f.Name())
}
