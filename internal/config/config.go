package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g.
// CRYPTOTRADER_EXCHANGE_API_SECRET for exchange.api_secret.
const EnvPrefix = "CRYPTOTRADER"

// Load reads path and every file it includes, applies environment
// overrides and defaults, then validates the result. Included files are
// merged first so the including file wins.
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	tree := &includeTree{state: map[string]visitState{}}
	if err := tree.walk(abs); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigType("yaml")
	explicit := make(keySet)
	for _, file := range tree.order {
		if err := v.MergeConfigMap(file.settings); err != nil {
			return nil, fmt.Errorf("merging config file failed (%s): %w", file.path, err)
		}
		for _, key := range file.keys {
			markWithParents(explicit, key)
		}
	}
	for _, key := range bindEnv(v) {
		if _, ok := os.LookupEnv(envName(key)); ok {
			markWithParents(explicit, key)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "toml"
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	cfg.applyDefaults(explicit)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type visitState uint8

const (
	visiting visitState = iota + 1
	visited
)

type configFile struct {
	path     string
	settings map[string]any
	keys     []string
}

// includeTree reads each file once and orders them includes-first.
type includeTree struct {
	state map[string]visitState
	order []configFile
}

func (t *includeTree) walk(path string) error {
	path = filepath.Clean(path)
	switch t.state[path] {
	case visiting:
		return fmt.Errorf("include cycle detected: %s", path)
	case visited:
		return nil
	}
	t.state[path] = visiting

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("reading config file failed (%s): %w", path, err)
	}
	includes, err := includeList(v.Get("include"))
	if err != nil {
		return fmt.Errorf("parsing include failed (%s): %w", path, err)
	}
	for _, inc := range includes {
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(filepath.Dir(path), inc)
		}
		if err := t.walk(inc); err != nil {
			return err
		}
	}

	t.state[path] = visited
	t.order = append(t.order, configFile{path: path, settings: v.AllSettings(), keys: v.AllKeys()})
	return nil
}

// includeList accepts a single path or a list of paths.
func includeList(raw any) ([]string, error) {
	var items []any
	switch val := raw.(type) {
	case nil:
		return nil, nil
	case string:
		items = []any{val}
	case []any:
		items = val
	case []string:
		for _, s := range val {
			items = append(items, s)
		}
	default:
		return nil, fmt.Errorf("include must be a string array")
	}
	var out []string
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("include only supports strings")
		}
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}

// markWithParents records key and each dotted prefix of it.
func markWithParents(keys keySet, key string) {
	for {
		keys.mark(key)
		i := strings.LastIndexByte(key, '.')
		if i < 0 {
			return
		}
		key = key[:i]
	}
}

// bindEnv registers every scalar and list key so overrides apply even when
// no file sets the key, and returns the bound keys.
func bindEnv(v *viper.Viper) []string {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	keys := envKeys(reflect.TypeOf(Config{}), "")
	for _, key := range keys {
		_ = v.BindEnv(key, envName(key))
	}
	return keys
}

func envName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// envKeys lists the dotted toml paths of the scalar and list fields in t.
// Maps are file-only.
func envKeys(t reflect.Type, prefix string) []string {
	var keys []string
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name, _, _ := strings.Cut(f.Tag.Get("toml"), ",")
		if name == "" || name == "-" {
			continue
		}
		if prefix != "" {
			name = prefix + "." + name
		}
		switch f.Type.Kind() {
		case reflect.Struct:
			keys = append(keys, envKeys(f.Type, name)...)
		case reflect.Map:
		default:
			keys = append(keys, name)
		}
	}
	return keys
}
