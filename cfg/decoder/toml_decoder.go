package decoder

import (
	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// TomlDecoder TOML 格式
type TomlDecoder struct{}

func NewTomlDecoder() *TomlDecoder {
	return &TomlDecoder{}
}

func (d *TomlDecoder) Decode(data []byte) (map[string]any, error) {
	result := map[string]any{}
	if _, err := toml.Decode(string(data), &result); err != nil {
		return nil, errors.Wrap(err, "failed to decode TOML")
	}
	return result, nil
}
