package schema

import (
	"fmt"
	"math"
	"reflect"

	"github.com/shopspring/decimal"
)

// RowFromStruct 结构体转换为 Row，字段名取 rdb tag
func RowFromStruct(v any) Row {
	row := Row{}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return row
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return row
	}

	rt := rv.Type()
	for i := 0; i < rv.NumField(); i++ {
		sf := rt.Field(i)
		if !sf.IsExported() || sf.Tag.Get("rdb") == "-" {
			continue
		}
		row[columnName(sf)] = normalize(rv.Field(i))
	}
	return row
}

// normalize 把 Go 值转换为绑定层认识的类型
func normalize(v reflect.Value) any {
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}
	if v.Type().Implements(choiceType) {
		return v.Interface()
	}
	switch v.Kind() {
	case reflect.Bool:
		if v.Bool() {
			return int64(1)
		}
		return int64(0)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		// 超出 int64 的值原样交给绑定层报错
		if v.Uint() > math.MaxInt64 {
			return v.Uint()
		}
		return int64(v.Uint())
	case reflect.Float32, reflect.Float64:
		return v.Float()
	}
	return v.Interface()
}

// Scan 将 Row 写入结构体，dest 必须是结构体指针
func (r Row) Scan(dest any) error {
	rv := reflect.ValueOf(dest)
	if rv.Kind() != reflect.Ptr || rv.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("dest must be a pointer to struct")
	}

	rv = rv.Elem()
	rt := rv.Type()
	for i := 0; i < rv.NumField(); i++ {
		sf := rt.Field(i)
		if !sf.IsExported() || sf.Tag.Get("rdb") == "-" {
			continue
		}
		name := columnName(sf)
		value, ok := r.Get(name)
		if !ok || value == nil {
			continue
		}
		if err := setFieldValue(rv.Field(i), value); err != nil {
			return fmt.Errorf("failed to set field %s: %v", name, err)
		}
	}
	return nil
}

// setFieldValue 设置字段值，处理数据库返回类型和结构体字段类型的差异
func setFieldValue(fv reflect.Value, value any) error {
	if fv.Kind() == reflect.Ptr {
		elem := reflect.New(fv.Type().Elem())
		if err := setFieldValue(elem.Elem(), value); err != nil {
			return err
		}
		fv.Set(elem)
		return nil
	}

	ft := fv.Type()
	vt := reflect.TypeOf(value)

	switch {
	case ft == idType:
		s, ok := value.(string)
		if !ok {
			break
		}
		id, err := ParseID(s)
		if err != nil {
			return err
		}
		fv.Set(reflect.ValueOf(id))
		return nil
	case ft == periodType:
		s, ok := value.(string)
		if !ok {
			break
		}
		p, err := ParsePeriod(s)
		if err != nil {
			return err
		}
		fv.Set(reflect.ValueOf(p))
		return nil
	case ft.Kind() == reflect.Bool:
		if n, ok := value.(int64); ok {
			fv.SetBool(n != 0)
			return nil
		}
	case ft == decimalType:
		switch x := value.(type) {
		case float64:
			fv.Set(reflect.ValueOf(decimal.NewFromFloat(x)))
			return nil
		case int64:
			fv.Set(reflect.ValueOf(decimal.NewFromInt(x)))
			return nil
		}
	case ft.Kind() == reflect.Float32 || ft.Kind() == reflect.Float64:
		if d, ok := value.(decimal.Decimal); ok {
			fv.SetFloat(d.InexactFloat64())
			return nil
		}
	}

	if vt.AssignableTo(ft) {
		fv.Set(reflect.ValueOf(value))
		return nil
	}

	// 数据库返回 int64/float64，结构体字段可能是 int/float32
	switch ft.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if n, ok := value.(int64); ok {
			fv.SetInt(n)
			return nil
		}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if n, ok := value.(int64); ok && n >= 0 {
			fv.SetUint(uint64(n))
			return nil
		}
	case reflect.Float32, reflect.Float64:
		if f, ok := value.(float64); ok {
			fv.SetFloat(f)
			return nil
		}
	}

	if vt.ConvertibleTo(ft) && vt.Kind() == ft.Kind() {
		fv.Set(reflect.ValueOf(value).Convert(ft))
		return nil
	}

	return fmt.Errorf("cannot convert %v to %v", vt, ft)
}
