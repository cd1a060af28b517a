package gcfg

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/locales/zh"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	zh_translations "github.com/go-playground/validator/v10/translations/zh"

	"github.com/lybxkl/snode/util"
)

//go:embed config.toml
var CfgFile []byte

var (
	mu       sync.RWMutex
	gConfig  *GConfig
	Validate = validator.New()
	trans    ut.Translator
)

func init() {
	uni := ut.New(zh.New())
	trans, _ = uni.GetTranslator("zh")

	//注册一个函数，获取struct tag里自定义的label作为字段名
	Validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		label := fld.Tag.Get("label")
		if label == "" {
			return fld.Name
		}
		return label
	})

	util.MustPanic(Validate.RegisterValidation("default", func(fl validator.FieldLevel) bool {
		switch fl.Field().Kind() {
		case reflect.String:
			if fl.Field().String() == "" {
				if strings.Contains(fl.Param(), "*") {
					fl.Field().Set(reflect.ValueOf(strings.Replace(fl.Param(), "*", util.Generate(), 1)))
				} else {
					fl.Field().Set(reflect.ValueOf(fl.Param()))
				}
			}
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			if fl.Field().Int() == 0 {
				return setIntOrUint(fl)
			}
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			if fl.Field().Uint() == 0 {
				return setIntOrUint(fl)
			}
		}
		return true
	}))

	//验证器注册翻译器
	util.MustPanic(zh_translations.RegisterDefaultTranslations(Validate, trans))

	cfg, err := parse(nil)
	util.MustPanic(err)
	gConfig = cfg
}

// GetGCfg 未调用 Load 时为内置默认配置
func GetGCfg() *GConfig {
	mu.RLock()
	defer mu.RUnlock()
	return gConfig
}

// Load 内置配置之上叠加 path 指向的配置文件，path 为空时只用内置配置
func Load(path string) (*GConfig, error) {
	var content []byte
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		content = b
	}
	cfg, err := parse(content)
	if err != nil {
		return nil, err
	}
	mu.Lock()
	gConfig = cfg
	mu.Unlock()
	return cfg, nil
}

func parse(content []byte) (*GConfig, error) {
	if len(CfgFile) == 0 {
		return nil, errors.New("not found config.toml")
	}
	cfg := &GConfig{}
	if err := toml.Unmarshal(CfgFile, cfg); err != nil {
		return nil, err
	}
	if len(content) > 0 {
		// 数组类配置整体覆盖
		cfg.Snode.Enodes = nil
		if err := toml.Unmarshal(content, cfg); err != nil {
			return nil, err
		}
	}
	if err := Translate(Validate.Struct(cfg)); err != nil {
		return nil, err
	}
	if cfg.Mqtt.MaxQos > 2 || cfg.Mqtt.MaxQos < 1 {
		cfg.Mqtt.MaxQos = 2
	}
	return cfg, nil
}

type GConfig struct {
	Version string `toml:"version" validate:"default=1.0.0"`
	Snode   Snode  `toml:"snode"`
	Mqtt    Mqtt   `toml:"mqtt"`
	PProf   PProf  `toml:"pprof"`
	Log     Log    `toml:"log"`
}

func (cfg *GConfig) String() string {
	b, err := json.Marshal(*cfg)
	if err != nil {
		return fmt.Sprintf("%+v", *cfg)
	}
	var out bytes.Buffer
	err = json.Indent(&out, b, "", "    ")
	if err != nil {
		return fmt.Sprintf("%+v", *cfg)
	}
	return out.String()
}

type PProf struct {
	Open bool   `toml:"open"`
	Addr string `toml:"addr" validate:"default=:6060"`
}

func setIntOrUint(fl validator.FieldLevel) bool {
	va, err := strconv.ParseInt(fl.Param(), 10, 64)
	if err != nil {
		return false
	}

	switch fl.Field().Kind() {
	case reflect.Int:
		fl.Field().Set(reflect.ValueOf(int(va)))
	case reflect.Uint:
		fl.Field().Set(reflect.ValueOf(uint(va)))
	case reflect.Int8:
		fl.Field().Set(reflect.ValueOf(int8(va)))
	case reflect.Uint8:
		fl.Field().Set(reflect.ValueOf(uint8(va)))
	case reflect.Int16:
		fl.Field().Set(reflect.ValueOf(int16(va)))
	case reflect.Uint16:
		fl.Field().Set(reflect.ValueOf(uint16(va)))
	case reflect.Int32:
		fl.Field().Set(reflect.ValueOf(int32(va)))
	case reflect.Uint32:
		fl.Field().Set(reflect.ValueOf(uint32(va)))
	case reflect.Int64:
		fl.Field().Set(reflect.ValueOf(va))
	case reflect.Uint64:
		fl.Field().Set(reflect.ValueOf(uint64(va)))
	}
	return true
}

func Translate(errs error) error {
	if errs == nil {
		return nil
	}
	if err, ok := errs.(validator.ValidationErrors); ok {
		var errList []string
		for _, e := range err {
			errList = append(errList, e.Translate(trans))
		}
		return errors.New(strings.Join(errList, "|"))
	}
	return errs
}
