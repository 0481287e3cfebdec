package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const (
	envPrefix = "TRADELAB_"
	// EnvConfigPath 指定主配置文件路径。
	EnvConfigPath = "TRADELAB_CONFIG"
)

// Load 读取主配置及其 include 链，按顺序合并后解码、补默认值并校验。
func Load(path string) (*Config, error) {
	files, err := resolveConfigIncludes(path)
	if err != nil {
		return nil, err
	}
	v := viper.New()
	for _, file := range files {
		if err := mergeConfigFile(v, file); err != nil {
			return nil, fmt.Errorf("读取配置文件失败 (%s): %w", file, err)
		}
	}
	applyEnvOverrides(v, os.Environ())
	return decode(v)
}

// applyEnvOverrides 把 TRADELAB_<SECTION>_<KEY> 形式的环境变量覆盖到配置上，
// 如 TRADELAB_RESULTS_BACKEND=sqlite、TRADELAB_DATA_RATE_LIMIT_PER_MIN=300。
func applyEnvOverrides(v *viper.Viper, environ []string) {
	for _, kv := range environ {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, envPrefix) || name == EnvConfigPath {
			continue
		}
		section, key, ok := strings.Cut(strings.ToLower(strings.TrimPrefix(name, envPrefix)), "_")
		if !ok || section == "" || key == "" {
			continue
		}
		if strings.Contains(value, ",") && !strings.Contains(value, " ") {
			v.Set(section+"."+key, strings.Split(value, ","))
			continue
		}
		v.Set(section+"."+key, value)
	}
}

// Default 返回纯默认配置，不读取任何文件。
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults(keySet{})
	return cfg
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "toml"
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	setKeys := make(keySet)
	collectSettingsKeys(v.AllSettings(), setKeys)
	cfg.applyDefaults(setKeys)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func mergeConfigFile(v *viper.Viper, path string) error {
	tmp := viper.New()
	tmp.SetConfigFile(path)
	if err := tmp.ReadInConfig(); err != nil {
		return err
	}
	return v.MergeConfigMap(tmp.AllSettings())
}

func resolveConfigIncludes(path string) ([]string, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path 不能为空")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	files, err := collectConfigFiles(abs, map[string]bool{}, map[string]bool{})
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return []string{abs}, nil
	}
	return files, nil
}

// collectConfigFiles 深度优先展开 include，被包含文件排在包含者之前。
func collectConfigFiles(path string, seen, stack map[string]bool) ([]string, error) {
	path = filepath.Clean(path)
	if stack[path] {
		return nil, fmt.Errorf("include 存在循环: %s", path)
	}
	if seen[path] {
		return nil, nil
	}
	stack[path] = true
	includes, err := parseIncludeList(path)
	if err != nil {
		return nil, fmt.Errorf("解析 include 失败 (%s): %w", path, err)
	}
	dir := filepath.Dir(path)
	var ordered []string
	for _, inc := range includes {
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(dir, inc)
		}
		sub, err := collectConfigFiles(inc, seen, stack)
		if err != nil {
			return nil, err
		}
		ordered = append(ordered, sub...)
	}
	delete(stack, path)
	seen[path] = true
	return append(ordered, path), nil
}

func parseIncludeList(path string) ([]string, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	raw := v.Get("include")
	if raw == nil {
		return nil, nil
	}
	var items []string
	switch val := raw.(type) {
	case string:
		items = []string{val}
	case []string:
		items = val
	case []any:
		for _, item := range val {
			str, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("include 只支持字符串")
			}
			items = append(items, str)
		}
	default:
		return nil, fmt.Errorf("include 必须是字符串数组")
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out, nil
}

func collectSettingsKeys(settings map[string]any, dest keySet) {
	if dest == nil || len(settings) == 0 {
		return
	}
	flattenConfigKeys("", settings, dest)
}

func flattenConfigKeys(prefix string, node any, dest keySet) {
	join := func(k string) string {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" || prefix == "" {
			return k
		}
		return prefix + "." + k
	}
	switch val := node.(type) {
	case map[string]any:
		for k, v := range val {
			if next := join(k); next != "" {
				flattenConfigKeys(next, v, dest)
			}
		}
	case map[any]any:
		for k, v := range val {
			keyStr, ok := k.(string)
			if !ok {
				continue
			}
			if next := join(keyStr); next != "" {
				flattenConfigKeys(next, v, dest)
			}
		}
	default:
		if prefix != "" {
			dest.mark(prefix)
		}
	}
}
