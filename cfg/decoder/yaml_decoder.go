package decoder

import (
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// YamlDecoder YAML 格式
type YamlDecoder struct{}

func NewYamlDecoder() *YamlDecoder {
	return &YamlDecoder{}
}

func (d *YamlDecoder) Decode(data []byte) (map[string]any, error) {
	var result map[string]any
	if err := yaml.Unmarshal(data, &result); err != nil {
		return nil, errors.Wrap(err, "failed to decode YAML")
	}
	if result == nil {
		result = map[string]any{}
	}
	return result, nil
}
