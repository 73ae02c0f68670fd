package errs

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrRecordNotFound     = errors.New("record not found")
	ErrRetriesExhausted   = errors.New("retries exhausted")
	ErrSequenceNotFound   = errors.New("sequence not found")
	ErrSequenceExists     = errors.New("sequence already exists")
	ErrUnsupportedKind    = errors.New("unsupported field kind")
	ErrIncompatibleSchema = errors.New("incompatible schema")
	ErrInvalidCondition   = errors.New("invalid condition")
)

// Kind 错误分类
type Kind int

const (
	// KindTransient 连接/网络/锁超时类错误，可重试
	KindTransient Kind = iota + 1
	// KindTerminal 重试耗尽或不可重试的错误
	KindTerminal
	// KindModel 模型与数据库不一致，或字段类型不支持
	KindModel
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindTerminal:
		return "terminal"
	case KindModel:
		return "model"
	default:
		return "unknown"
	}
}

// Error 持久层统一错误类型，应用层只会看到这一种错误
type Error struct {
	Kind  Kind
	Op    string
	Query string
	Table string
	Field string
	Cause error
	// Attempts 重试耗尽时的尝试次数，其余情况为 0
	Attempts int
}

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Kind.String())
	if e.Op != "" {
		sb.WriteString(" ")
		sb.WriteString(e.Op)
	}
	if e.Table != "" {
		sb.WriteString(" table=")
		sb.WriteString(e.Table)
	}
	if e.Field != "" {
		sb.WriteString(" field=")
		sb.WriteString(e.Field)
	}
	if e.Attempts > 0 {
		sb.WriteString(" after ")
		sb.WriteString(strconv.Itoa(e.Attempts))
		sb.WriteString(" attempts")
	}
	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}
	if e.Query != "" {
		sb.WriteString(" [query: ")
		sb.WriteString(e.Query)
		sb.WriteString("]")
	}
	return sb.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is 重试耗尽的错误同时匹配 ErrRetriesExhausted 和最后一次的原因
func (e *Error) Is(target error) bool {
	return target == ErrRetriesExhausted && e.Attempts > 0
}

// Retriable 是否可以重试
func (e *Error) Retriable() bool {
	return e.Kind == KindTransient
}

func NewTransient(op string, query string, cause error) *Error {
	return &Error{Kind: KindTransient, Op: op, Query: query, Cause: cause}
}

func NewTerminal(op string, query string, cause error) *Error {
	return &Error{Kind: KindTerminal, Op: op, Query: query, Cause: cause}
}

// NewExhausted 重试耗尽，携带最后一次观察到的原因
func NewExhausted(op string, query string, attempts int, last error) *Error {
	return &Error{Kind: KindTerminal, Op: op, Query: query, Cause: last, Attempts: attempts}
}

// NewModel 模型错误，需要带上表名/字段名以及冲突的类型信息，方便人工修复
func NewModel(table string, field string, cause error, format string, args ...any) *Error {
	if cause == nil {
		cause = errors.Errorf(format, args...)
	} else if format != "" {
		cause = errors.WithMessagef(cause, format, args...)
	}
	return &Error{Kind: KindModel, Table: table, Field: field, Cause: cause}
}

func kindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

func IsTransient(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindTransient
}

func IsTerminal(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindTerminal
}

func IsModel(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindModel
}

// Terminal 将任意错误归一化为终止错误，已经是 *Error 的保留原分类（瞬时错误升级为终止）
func Terminal(op string, query string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		if e.Kind == KindTransient {
			return &Error{Kind: KindTerminal, Op: op, Query: firstNonEmpty(e.Query, query), Table: e.Table, Field: e.Field, Cause: e.Cause}
		}
		return err
	}
	return NewTerminal(op, query, err)
}

func firstNonEmpty(vs ...string) string {
	for _, v := range vs {
		if v != "" {
			return v
		}
	}
	return ""
}
