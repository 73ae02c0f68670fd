package cfg

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

var (
	durationType = reflect.TypeOf(time.Duration(0))
	timeType     = reflect.TypeOf(time.Time{})
)

// Convert 将解码出来的 map 写入结构体，结构体字段按 cfg tag 匹配 key（不区分大小写），没有 tag 时使用字段名
// key 不存在的字段保持原值，nil 指针只有在 map 里有对应的值时才分配
func Convert(src map[string]any, object any) error {
	rv := reflect.ValueOf(object)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return errors.New("object must be a non-nil pointer")
	}
	return convertValue(src, rv.Elem(), "")
}

func convertValue(src any, dst reflect.Value, path string) error {
	if src == nil {
		return nil
	}

	if dst.Kind() == reflect.Ptr {
		if dst.IsNil() {
			dst.Set(reflect.New(dst.Type().Elem()))
		}
		return convertValue(src, dst.Elem(), path)
	}

	sv := reflect.ValueOf(src)
	if dst.Type() != durationType && dst.Type() != timeType && sv.Type().AssignableTo(dst.Type()) {
		dst.Set(sv)
		return nil
	}

	switch dst.Type() {
	case durationType:
		return wrap(path, convertDuration(src, dst))
	case timeType:
		return wrap(path, convertTime(src, dst))
	}

	switch dst.Kind() {
	case reflect.Struct:
		m, ok := src.(map[string]any)
		if !ok {
			return errors.Errorf("%s: cannot convert %T to %s", path, src, dst.Type())
		}
		return convertStruct(m, dst, path)
	case reflect.Map:
		return convertMap(src, dst, path)
	case reflect.Slice:
		return convertSlice(src, dst, path)
	case reflect.Interface:
		if dst.NumMethod() == 0 {
			dst.Set(sv)
			return nil
		}
	case reflect.String:
		dst.SetString(toString(src))
		return nil
	case reflect.Bool:
		b, err := strconv.ParseBool(toString(src))
		if err != nil {
			return errors.Errorf("%s: invalid bool %v", path, src)
		}
		dst.SetBool(b)
		return nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(toString(src), 0, dst.Type().Bits())
		if err != nil {
			return errors.Errorf("%s: invalid int %v", path, src)
		}
		dst.SetInt(n)
		return nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(toString(src), 0, dst.Type().Bits())
		if err != nil {
			return errors.Errorf("%s: invalid uint %v", path, src)
		}
		dst.SetUint(n)
		return nil
	case reflect.Float32, reflect.Float64:
		n, err := strconv.ParseFloat(toString(src), dst.Type().Bits())
		if err != nil {
			return errors.Errorf("%s: invalid float %v", path, src)
		}
		dst.SetFloat(n)
		return nil
	}

	if sv.Type().ConvertibleTo(dst.Type()) {
		dst.Set(sv.Convert(dst.Type()))
		return nil
	}
	return errors.Errorf("%s: cannot convert %T to %s", path, src, dst.Type())
}

func convertStruct(src map[string]any, dst reflect.Value, path string) error {
	rt := dst.Type()
	for i := 0; i < rt.NumField(); i++ {
		sf := rt.Field(i)
		if !sf.IsExported() {
			continue
		}
		name := keyName(sf)
		if name == "-" {
			continue
		}
		v, ok := lookup(src, name)
		if !ok {
			continue
		}
		if err := convertValue(v, dst.Field(i), join(path, name)); err != nil {
			return err
		}
	}
	return nil
}

func convertMap(src any, dst reflect.Value, path string) error {
	m, ok := src.(map[string]any)
	if !ok {
		return errors.Errorf("%s: cannot convert %T to %s", path, src, dst.Type())
	}
	if dst.Type().Key().Kind() != reflect.String {
		return errors.Errorf("%s: map key must be string", path)
	}
	if dst.IsNil() {
		dst.Set(reflect.MakeMapWithSize(dst.Type(), len(m)))
	}
	for k, v := range m {
		elem := reflect.New(dst.Type().Elem()).Elem()
		if err := convertValue(v, elem, join(path, k)); err != nil {
			return err
		}
		dst.SetMapIndex(reflect.ValueOf(k).Convert(dst.Type().Key()), elem)
	}
	return nil
}

func convertSlice(src any, dst reflect.Value, path string) error {
	var items []any
	switch x := src.(type) {
	case []any:
		items = x
	case []map[string]any:
		for _, m := range x {
			items = append(items, m)
		}
	case string:
		// ini 里的列表写成逗号分隔
		if dst.Type().Elem().Kind() == reflect.Uint8 {
			dst.SetBytes([]byte(x))
			return nil
		}
		for _, s := range strings.Split(x, ",") {
			if s = strings.TrimSpace(s); s != "" {
				items = append(items, s)
			}
		}
	default:
		return errors.Errorf("%s: cannot convert %T to %s", path, src, dst.Type())
	}

	slice := reflect.MakeSlice(dst.Type(), len(items), len(items))
	for i, v := range items {
		if err := convertValue(v, slice.Index(i), path+"["+strconv.Itoa(i)+"]"); err != nil {
			return err
		}
	}
	dst.Set(slice)
	return nil
}

// convertDuration 字符串按 time.ParseDuration 解析，整数为纳秒，浮点数为秒
func convertDuration(src any, dst reflect.Value) error {
	switch x := src.(type) {
	case string:
		d, err := time.ParseDuration(x)
		if err != nil {
			return errors.Wrapf(err, "invalid duration %q", x)
		}
		dst.SetInt(int64(d))
	case json.Number:
		if n, err := x.Int64(); err == nil {
			dst.SetInt(n)
			return nil
		}
		f, err := x.Float64()
		if err != nil {
			return errors.Wrapf(err, "invalid duration %q", x)
		}
		dst.SetInt(int64(f * float64(time.Second)))
	case int:
		dst.SetInt(int64(x))
	case int64:
		dst.SetInt(x)
	case float64:
		dst.SetInt(int64(x * float64(time.Second)))
	case time.Duration:
		dst.SetInt(int64(x))
	default:
		return errors.Errorf("cannot convert %T to time.Duration", src)
	}
	return nil
}

func convertTime(src any, dst reflect.Value) error {
	switch x := src.(type) {
	case time.Time:
		dst.Set(reflect.ValueOf(x))
		return nil
	case string:
		t, err := parseTime(x)
		if err != nil {
			return err
		}
		dst.Set(reflect.ValueOf(t))
		return nil
	}
	return errors.Errorf("cannot convert %T to time.Time", src)
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.Errorf("invalid time %q", s)
}

func keyName(sf reflect.StructField) string {
	if tag, ok := sf.Tag.Lookup("cfg"); ok {
		if name := strings.Split(tag, ",")[0]; name != "" {
			return name
		}
	}
	return sf.Name
}

func lookup(m map[string]any, key string) (any, bool) {
	if v, ok := m[key]; ok {
		return v, true
	}
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}

func toString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case json.Number:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case []byte:
		return string(x)
	}
	return fmt.Sprint(v)
}

func join(path string, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func wrap(path string, err error) error {
	if err == nil {
		return nil
	}
	return errors.WithMessage(err, path)
}
