package decoder

import (
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/ini.v1"
)

// IniDecoder INI 格式
// 值都是字符串，由 cfg 在转换到结构体时解析
// section 名里的点号表示嵌套，[database.executor] 对应 database -> executor
type IniDecoder struct {
	AllowBoolKeys bool
}

func NewIniDecoder() *IniDecoder {
	return &IniDecoder{AllowBoolKeys: true}
}

func (d *IniDecoder) Decode(data []byte) (map[string]any, error) {
	file, err := ini.LoadSources(ini.LoadOptions{
		AllowBooleanKeys:         d.AllowBoolKeys,
		SpaceBeforeInlineComment: true,
	}, data)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode INI")
	}

	result := map[string]any{}
	for _, section := range file.Sections() {
		target := result
		if name := section.Name(); name != ini.DefaultSection {
			for _, part := range strings.Split(name, ".") {
				sub, ok := target[part].(map[string]any)
				if !ok {
					sub = map[string]any{}
					target[part] = sub
				}
				target = sub
			}
		}
		for _, key := range section.Keys() {
			target[key.Name()] = key.Value()
		}
	}
	return result, nil
}
