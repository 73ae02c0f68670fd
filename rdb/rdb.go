package rdb

import (
	"github.com/pkg/errors"

	"github.com/hatlonely/rdbx/cfg"
	"github.com/hatlonely/rdbx/rdb/database"
	"github.com/hatlonely/rdbx/rdb/errs"
)

var (
	ErrRecordNotFound     = errs.ErrRecordNotFound
	ErrRetriesExhausted   = errs.ErrRetriesExhausted
	ErrSequenceNotFound   = errs.ErrSequenceNotFound
	ErrSequenceExists     = errs.ErrSequenceExists
	ErrUnsupportedKind    = errs.ErrUnsupportedKind
	ErrIncompatibleSchema = errs.ErrIncompatibleSchema
	ErrInvalidCondition   = errs.ErrInvalidCondition
)

type (
	SQL        = database.SQL
	SQLOptions = database.SQLOptions
	Tx         = database.Tx
)

func NewSQLWithOptions(options *SQLOptions) (*SQL, error) {
	return database.NewSQLWithOptions(options)
}

// NewSQLFromFile 从配置文件（yaml/json/toml/ini）加载 SQLOptions 并创建连接
func NewSQLFromFile(path string) (*SQL, error) {
	var options SQLOptions
	if err := cfg.LoadFile(path, &options); err != nil {
		return nil, errors.WithMessage(err, "load options failed")
	}
	return database.NewSQLWithOptions(&options)
}
