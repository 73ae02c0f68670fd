package writer

import (
	"io"
	"os"
)

// ConsoleWriterOptions 控制台输出配置
type ConsoleWriterOptions struct {
	// 输出目标：stdout, stderr
	Target string `cfg:"target" def:"stdout"`
}

type ConsoleWriter struct {
	writer io.Writer
	target string
}

func NewConsoleWriterWithOptions(options *ConsoleWriterOptions) (*ConsoleWriter, error) {
	target := "stdout"
	if options != nil && options.Target == "stderr" {
		target = "stderr"
	}

	w := io.Writer(os.Stdout)
	if target == "stderr" {
		w = os.Stderr
	}
	return &ConsoleWriter{writer: w, target: target}, nil
}

func (c *ConsoleWriter) Target() string {
	return c.target
}

func (c *ConsoleWriter) Write(p []byte) (n int, err error) {
	return c.writer.Write(p)
}

// Close 标准输出不关闭
func (c *ConsoleWriter) Close() error {
	return nil
}
