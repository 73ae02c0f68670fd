package schema

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Choice 枚举值，落库的是它的编码
type Choice interface {
	Code() string
}

// ID 标识符，以标准 uuid 字符串落库
type ID = uuid.UUID

// NewID 生成新的标识符
func NewID() ID {
	return uuid.New()
}

// ParseID 解析标识符
func ParseID(s string) (ID, error) {
	return uuid.Parse(s)
}

// Period 时间段，编码为 "start/end"（RFC3339），落库为字符串
type Period struct {
	Start time.Time
	End   time.Time
}

// Encode 编码时间段
func (p Period) Encode() string {
	return p.Start.UTC().Format(time.RFC3339Nano) + "/" + p.End.UTC().Format(time.RFC3339Nano)
}

// ParsePeriod 解析 Encode 的结果
func ParsePeriod(s string) (Period, error) {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 {
		return Period{}, errors.Errorf("invalid period %q", s)
	}
	start, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return Period{}, errors.Wrapf(err, "invalid period start %q", parts[0])
	}
	end, err := time.Parse(time.RFC3339Nano, parts[1])
	if err != nil {
		return Period{}, errors.Wrapf(err, "invalid period end %q", parts[1])
	}
	return Period{Start: start, End: end}, nil
}

// Row 一行数据，key 为字段名
type Row map[string]any

// Get 按字段名取值，不区分大小写
func (r Row) Get(name string) (any, bool) {
	if v, ok := r[name]; ok {
		return v, true
	}
	for k, v := range r {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return nil, false
}
