package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultEnvPrefix 环境变量前缀，例如 KNOWFLOW_SERVER_HTTP_PORT
const DefaultEnvPrefix = "KNOWFLOW"

// Loader 组装配置：默认值 → YAML 文件 → 环境变量 → 自定义校验。
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("knowflow.yaml").
//	    WithStrict(true).
//	    Load()
type Loader struct {
	configPath string
	envPrefix  string
	strict     bool
	validators []func(*Config) error

	applied []string
}

// NewLoader creates a loader with the KNOWFLOW env prefix.
func NewLoader() *Loader {
	return &Loader{envPrefix: DefaultEnvPrefix}
}

// WithConfigPath 设置 YAML 文件路径；文件不存在时只用默认值与环境变量
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 替换环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithStrict 开启后 YAML 中的未知键视为错误
func (l *Loader) WithStrict(strict bool) *Loader {
	l.strict = strict
	return l
}

// WithValidator 追加在 Load 末尾执行的校验
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// AppliedEnv 返回上一次 Load 实际生效的环境变量名
func (l *Loader) AppliedEnv() []string { return l.applied }

// Load builds the configuration.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()
	l.applied = nil

	if l.configPath != "" {
		if err := l.decodeFile(cfg); err != nil {
			return nil, fmt.Errorf("config file %s: %w", l.configPath, err)
		}
	}
	if err := l.bindEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix); err != nil {
		return nil, fmt.Errorf("config env: %w", err)
	}
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}
	return cfg, nil
}

func (l *Loader) decodeFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	dec := yaml.NewDecoder(bytes.NewReader(expandEnvRefs(data)))
	dec.KnownFields(l.strict)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse: %w", err)
	}
	return nil
}

// envRef 匹配 ${NAME} 与 ${NAME:-default}
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// expandEnvRefs 替换 YAML 中的 ${NAME} 引用，未设置且无默认值时保持原样
func expandEnvRefs(data []byte) []byte {
	return envRef.ReplaceAllFunc(data, func(m []byte) []byte {
		sub := envRef.FindSubmatch(m)
		if v, ok := os.LookupEnv(string(sub[1])); ok {
			return []byte(v)
		}
		if bytes.Contains(m, []byte(":-")) {
			return sub[2]
		}
		return m
	})
}

// bindEnv 按 env tag 递归覆盖字段。嵌套结构体的 tag 作为前缀段，
// 所有解析错误一并返回。
func (l *Loader) bindEnv(v reflect.Value, prefix string) error {
	var errs []error
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		tag := t.Field(i).Tag.Get("env")
		if tag == "" || tag == "-" {
			continue
		}
		key := prefix + "_" + tag
		field := v.Field(i)

		if field.Kind() == reflect.Struct {
			if err := l.bindEnv(field, key); err != nil {
				errs = append(errs, err)
			}
			continue
		}

		raw, ok := os.LookupEnv(key)
		if !ok || raw == "" {
			continue
		}
		if err := assign(field, raw); err != nil {
			errs = append(errs, fmt.Errorf("%s=%q: %w", key, raw, err))
			continue
		}
		l.applied = append(l.applied, key)
	}
	return errors.Join(errs...)
}

var durationType = reflect.TypeOf(time.Duration(0))

func assign(field reflect.Value, raw string) error {
	if !field.CanSet() {
		return nil
	}
	if field.Type() == durationType {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(raw)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetInt(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(raw, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetFloat(f)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type %s", field.Type())
		}
		// 逗号分隔，空元素丢弃
		var parts []string
		for _, p := range strings.Split(raw, ",") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		field.Set(reflect.ValueOf(parts))
	default:
		return fmt.Errorf("unsupported field kind %s", field.Kind())
	}
	return nil
}

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}
