package decoder

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"
)

// JsonDecoder JSON 格式，数字保留为 json.Number 以免大整数丢失精度
type JsonDecoder struct{}

func NewJsonDecoder() *JsonDecoder {
	return &JsonDecoder{}
}

func (d *JsonDecoder) Decode(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var result map[string]any
	if err := dec.Decode(&result); err != nil {
		return nil, errors.Wrap(err, "failed to decode JSON")
	}
	if result == nil {
		result = map[string]any{}
	}
	return result, nil
}
