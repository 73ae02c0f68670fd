package cfg

import (
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/hatlonely/rdbx/cfg/decoder"
)

var validate = validator.New()

// LoadFile 读取配置文件写入 object，格式由扩展名决定（.yaml/.yml/.json/.toml/.ini）
// 依次做 map 到结构体的转换、默认值填充和校验
func LoadFile(path string, object any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "read config %s failed", path)
	}
	d, err := decoder.ForExtension(path)
	if err != nil {
		return err
	}
	return errors.WithMessagef(Load(d, data, object), "load config %s", path)
}

// Load 用 d 解码 data 写入 object
func Load(d decoder.Decoder, data []byte, object any) error {
	m, err := d.Decode(data)
	if err != nil {
		return err
	}
	if err := Convert(m, object); err != nil {
		return errors.WithMessage(err, "convert failed")
	}
	if err := SetDefaults(object); err != nil {
		return errors.WithMessage(err, "set defaults failed")
	}
	return Validate(object)
}

// Validate 按 validate tag 校验结构体，nil 指针跳过
func Validate(object any) error {
	if object == nil {
		return nil
	}
	if err := validate.Struct(object); err != nil {
		var invalid *validator.InvalidValidationError
		if errors.As(err, &invalid) {
			return nil
		}
		return errors.Wrap(err, "validate failed")
	}
	return nil
}
