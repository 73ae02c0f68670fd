package schema

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hatlonely/rdbx/rdb/errs"
)

var (
	timeType    = reflect.TypeOf(time.Time{})
	idType      = reflect.TypeOf(ID{})
	periodType  = reflect.TypeOf(Period{})
	bytesType   = reflect.TypeOf([]byte(nil))
	decimalType = reflect.TypeOf(decimal.Decimal{})
	choiceType  = reflect.TypeOf((*Choice)(nil)).Elem()
)

const (
	defaultStringSize = 255
	defaultPrecision  = 18
	defaultScale      = 2
)

// TableFromStruct 从结构体构建表定义
// 支持的 tag 格式：
// - `rdb:"COLUMN,type=string,size=80,scale=2,default=x,index=idx_name,unique=uk_name"`
// - `rdb:"-"` 忽略字段
// - `table:"TABLE_NAME"` 指定表名（任意字段上）
func TableFromStruct(v any) (*Table, error) {
	rt := reflect.TypeOf(v)
	for rt != nil && rt.Kind() == reflect.Ptr {
		rt = rt.Elem()
	}
	if rt == nil || rt.Kind() != reflect.Struct {
		return nil, errs.NewModel("", "", nil, "expected struct, got %T", v)
	}

	table := &Table{Name: tableName(rt)}
	indexes := map[string]*Index{}
	var order []string

	for i := 0; i < rt.NumField(); i++ {
		sf := rt.Field(i)
		if !sf.IsExported() {
			continue
		}
		tag := sf.Tag.Get("rdb")
		if tag == "-" {
			continue
		}

		field, idxs, err := parseFieldTag(sf, tag)
		if err != nil {
			return nil, errs.NewModel(table.Name, sf.Name, err, "")
		}
		table.Fields = append(table.Fields, field)

		for _, idx := range idxs {
			if existing, ok := indexes[idx.Name]; ok {
				existing.Fields = append(existing.Fields, field.Name())
				existing.Unique = existing.Unique || idx.Unique
				continue
			}
			idx.Fields = []string{field.Name()}
			indexes[idx.Name] = &Index{Name: idx.Name, Fields: idx.Fields, Unique: idx.Unique}
			order = append(order, idx.Name)
		}
	}

	// 保持索引的声明顺序
	for _, name := range order {
		table.Indexes = append(table.Indexes, *indexes[name])
	}

	if err := table.Validate(); err != nil {
		return nil, err
	}
	return table, nil
}

func tableName(rt reflect.Type) string {
	for i := 0; i < rt.NumField(); i++ {
		if name := rt.Field(i).Tag.Get("table"); name != "" {
			return name
		}
	}
	return strings.ToUpper(rt.Name())
}

func columnName(sf reflect.StructField) string {
	tag := sf.Tag.Get("rdb")
	if tag == "" || tag == "-" {
		return sf.Name
	}
	name := strings.SplitN(tag, ",", 2)[0]
	if name == "" || strings.Contains(name, "=") {
		return sf.Name
	}
	return name
}

// parseFieldTag 解析字段的 rdb tag
func parseFieldTag(sf reflect.StructField, tag string) (Field, []Index, error) {
	name := columnName(sf)
	kind := inferKind(sf.Type)
	size := 0
	scale := -1
	var def *string
	var indexes []Index

	parts := strings.Split(tag, ",")
	if len(parts) > 0 && !strings.Contains(parts[0], "=") {
		parts = parts[1:]
	}

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if !strings.Contains(part, "=") {
			switch part {
			case "index":
				indexes = append(indexes, Index{Name: "IDX_" + strings.ToUpper(name)})
			case "unique":
				indexes = append(indexes, Index{Name: "UK_" + strings.ToUpper(name), Unique: true})
			default:
				return nil, nil, fmt.Errorf("unknown option %q", part)
			}
			continue
		}

		kv := strings.SplitN(part, "=", 2)
		key, value := strings.TrimSpace(kv[0]), strings.TrimSpace(kv[1])
		switch key {
		case "type":
			kind = value
		case "size":
			n, err := strconv.Atoi(value)
			if err != nil {
				return nil, nil, fmt.Errorf("invalid size %q: %v", value, err)
			}
			size = n
		case "scale":
			n, err := strconv.Atoi(value)
			if err != nil {
				return nil, nil, fmt.Errorf("invalid scale %q: %v", value, err)
			}
			scale = n
		case "default":
			v := strings.Trim(value, `"'`)
			def = &v
		case "index":
			indexes = append(indexes, Index{Name: value})
		case "unique":
			indexes = append(indexes, Index{Name: value, Unique: true})
		default:
			return nil, nil, fmt.Errorf("unknown option %q", key)
		}
	}

	switch kind {
	case "string":
		if size == 0 {
			size = defaultStringSize
		}
		if def != nil {
			return NewStringWithDefault(name, size, *def), indexes, nil
		}
		return NewString(name, size), indexes, nil
	case "int":
		if def != nil {
			n, err := strconv.ParseInt(*def, 10, 64)
			if err != nil {
				return nil, nil, fmt.Errorf("invalid integer default %q: %v", *def, err)
			}
			return NewIntegerWithDefault(name, n), indexes, nil
		}
		return NewInteger(name), indexes, nil
	case "decimal":
		if size == 0 {
			size = defaultPrecision
		}
		if scale < 0 {
			scale = defaultScale
		}
		return NewDecimal(name, size, scale), indexes, nil
	case "timestamp":
		return NewTimestamp(name), indexes, nil
	case "binary":
		return NewBinary(name, int64(size)), indexes, nil
	default:
		return nil, nil, fmt.Errorf("unsupported type %q for go type %v", kind, sf.Type)
	}
}

// inferKind 从 Go 类型推断字段类型
func inferKind(t reflect.Type) string {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	switch {
	case t == timeType:
		return "timestamp"
	case t == idType, t == periodType:
		return "string"
	case t == bytesType:
		return "binary"
	case t == decimalType:
		return "decimal"
	case t.Implements(choiceType):
		return "string"
	}
	switch t.Kind() {
	case reflect.String:
		return "string"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Bool:
		return "int"
	case reflect.Float32, reflect.Float64:
		return "decimal"
	}
	return ""
}
