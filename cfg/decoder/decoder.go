package decoder

import (
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// Decoder 将配置文件内容解码为 map[string]any
type Decoder interface {
	Decode(data []byte) (map[string]any, error)
}

// ForExtension 按文件扩展名选择解码器
func ForExtension(path string) (Decoder, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return NewJsonDecoder(), nil
	case ".yaml", ".yml":
		return NewYamlDecoder(), nil
	case ".toml":
		return NewTomlDecoder(), nil
	case ".ini":
		return NewIniDecoder(), nil
	}
	return nil, errors.Errorf("unsupported config format %q", filepath.Ext(path))
}
