package cfg

import (
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// SetDefaults 为结构体的零值字段设置 def tag 里的默认值，递归处理嵌套结构体
// nil 指针不会被分配，可选的配置块保持为 nil
func SetDefaults(object any) error {
	rv := reflect.ValueOf(object)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return errors.New("object must be a non-nil pointer")
	}
	return setDefaults(rv.Elem())
}

func setDefaults(rv reflect.Value) error {
	if rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil
		}
		return setDefaults(rv.Elem())
	}
	if rv.Kind() != reflect.Struct || rv.Type() == timeType {
		return nil
	}

	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		sf := rt.Field(i)
		fv := rv.Field(i)
		if !fv.CanSet() {
			continue
		}

		if fv.Kind() == reflect.Struct || fv.Kind() == reflect.Ptr {
			if err := setDefaults(fv); err != nil {
				return errors.WithMessage(err, sf.Name)
			}
		}

		def, ok := sf.Tag.Lookup("def")
		if !ok || def == "" || !fv.IsZero() {
			continue
		}
		if err := setDefault(fv, def); err != nil {
			return errors.WithMessagef(err, "field %s", sf.Name)
		}
	}
	return nil
}

func setDefault(rv reflect.Value, def string) error {
	switch rv.Type() {
	case durationType:
		d, err := time.ParseDuration(def)
		if err != nil {
			return errors.Wrapf(err, "invalid duration %q", def)
		}
		rv.SetInt(int64(d))
		return nil
	case timeType:
		t, err := parseTime(def)
		if err != nil {
			return err
		}
		rv.Set(reflect.ValueOf(t))
		return nil
	}

	switch rv.Kind() {
	case reflect.String:
		rv.SetString(def)
	case reflect.Bool:
		b, err := strconv.ParseBool(def)
		if err != nil {
			return errors.Errorf("invalid bool %q", def)
		}
		rv.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(def, 0, rv.Type().Bits())
		if err != nil {
			return errors.Errorf("invalid int %q", def)
		}
		rv.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(def, 0, rv.Type().Bits())
		if err != nil {
			return errors.Errorf("invalid uint %q", def)
		}
		rv.SetUint(n)
	case reflect.Float32, reflect.Float64:
		n, err := strconv.ParseFloat(def, rv.Type().Bits())
		if err != nil {
			return errors.Errorf("invalid float %q", def)
		}
		rv.SetFloat(n)
	case reflect.Slice:
		// 逗号分隔
		parts := strings.Split(def, ",")
		slice := reflect.MakeSlice(rv.Type(), len(parts), len(parts))
		for i, p := range parts {
			if err := setDefault(slice.Index(i), strings.TrimSpace(p)); err != nil {
				return err
			}
		}
		rv.Set(slice)
	case reflect.Ptr:
		elem := reflect.New(rv.Type().Elem())
		if err := setDefault(elem.Elem(), def); err != nil {
			return err
		}
		rv.Set(elem)
	default:
		return errors.Errorf("unsupported default for %s", rv.Type())
	}
	return nil
}
