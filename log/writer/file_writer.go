package writer

import (
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"gopkg.in/natefinch/lumberjack.v2"
)

// FileWriterOptions 文件输出配置
type FileWriterOptions struct {
	// 文件路径
	Path string `cfg:"path" validate:"required"`
	// 单个文件最大大小（MB），0 表示不轮转
	MaxSize int `cfg:"maxSize"`
	// 保留的历史文件数量，0 表示不限制
	MaxBackups int `cfg:"maxBackups"`
	// 历史文件最大保留天数，0 表示不限制
	MaxAge int `cfg:"maxAge"`
	// 是否压缩历史文件
	Compress bool `cfg:"compress"`
}

// FileWriter 文件输出器，轮转由 lumberjack 完成
// 历史文件名为 <name>-<时间>.<ext>，超出 MaxBackups/MaxAge 的历史文件在后台清理
type FileWriter struct {
	options *FileWriterOptions
	logger  *lumberjack.Logger
	closed  bool
	mu      sync.Mutex
}

func NewFileWriterWithOptions(options *FileWriterOptions) (*FileWriter, error) {
	if options == nil || options.Path == "" {
		return nil, errors.New("file path is required")
	}

	dir := filepath.Dir(options.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "failed to create directory %s", dir)
	}

	// lumberjack 的 MaxSize 为 0 时使用默认的 100MB
	maxSize := options.MaxSize
	if maxSize <= 0 {
		maxSize = math.MaxInt32
	}
	l := &lumberjack.Logger{
		Filename:   options.Path,
		MaxSize:    maxSize,
		MaxBackups: options.MaxBackups,
		MaxAge:     options.MaxAge,
		Compress:   options.Compress,
		LocalTime:  true,
	}
	// 空写入会打开文件，路径不可写时在这里报错
	if _, err := l.Write(nil); err != nil {
		return nil, errors.Wrapf(err, "failed to open file %s", options.Path)
	}

	return &FileWriter{options: options, logger: l}, nil
}

func (f *FileWriter) Write(p []byte) (n int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	// lumberjack 关闭后再写会重新打开文件
	if f.closed {
		return 0, errors.New("file is closed")
	}
	return f.logger.Write(p)
}

// Rotate 立即轮转
func (f *FileWriter) Rotate() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return errors.New("file is closed")
	}
	return errors.Wrap(f.logger.Rotate(), "rotate failed")
}

func (f *FileWriter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil
	}
	f.closed = true
	return f.logger.Close()
}
