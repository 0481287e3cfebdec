package strategy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"tradelab/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var presetLog = logger.Tagged("preset")

// Preset 是一组命名的策略参数。
type Preset struct {
	ID          string         `yaml:"id" json:"id"`
	Kind        Kind           `yaml:"kind" json:"kind"`
	Description string         `yaml:"description" json:"description,omitempty"`
	Version     int            `yaml:"version" json:"version"`
	Params      map[string]any `yaml:"params" json:"params"`
	// Schema 可选，在策略自带 schema 之外追加约束。
	Schema      map[string]any `yaml:"schema" json:"-"`

	schemaCompiled *jsonschema.Schema
}

// PresetFile 映射预设 YAML 文件。
type PresetFile struct {
	Presets map[string]Preset `yaml:"presets"`
}

// PresetSnapshot 是某次加载后的预设集合。
type PresetSnapshot struct {
	Version  int64
	LoadedAt time.Time
	Presets  map[string]Preset
}

type PresetListener func(PresetSnapshot)

// PresetRegistry 从 YAML 加载预设，按策略 schema 校验，可选监听文件变化热加载。
type PresetRegistry struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	snapshot  PresetSnapshot
	listeners []PresetListener
}

// NewPresetRegistry 读取预设文件；watch 为 true 时文件变化后自动重载。
func NewPresetRegistry(path string, watch bool) (*PresetRegistry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("preset registry requires path")
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read preset file failed: %w", err)
	}
	r := &PresetRegistry{path: path, v: v}
	if err := r.reload(); err != nil {
		return nil, err
	}
	if watch {
		v.OnConfigChange(func(evt fsnotify.Event) {
			if err := r.reload(); err != nil {
				presetLog.Errorf("重载失败 %s: %v", evt.Name, err)
				return
			}
			r.notifyListeners()
		})
		v.WatchConfig()
	}
	return r, nil
}

func (r *PresetRegistry) Snapshot() PresetSnapshot {
	if r == nil {
		return PresetSnapshot{}
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return clonePresetSnapshot(r.snapshot)
}

func (r *PresetRegistry) Preset(id string) (Preset, bool) {
	if r == nil {
		return Preset{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.snapshot.Presets[strings.TrimSpace(id)]
	return p, ok
}

// List 按 ID 排序返回全部预设。
func (r *PresetRegistry) List() []Preset {
	snap := r.Snapshot()
	out := make([]Preset, 0, len(snap.Presets))
	for _, p := range snap.Presets {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// OnChange 注册重载回调。
func (r *PresetRegistry) OnChange(fn PresetListener) {
	if r == nil || fn == nil {
		return
	}
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

// Resolve 合并预设参数与覆盖项并校验，返回策略类型与最终参数。
func (r *PresetRegistry) Resolve(id string, overrides map[string]any) (Kind, map[string]any, error) {
	p, ok := r.Preset(id)
	if !ok {
		return "", nil, fmt.Errorf("unknown preset: %s", id)
	}
	merged := make(map[string]any, len(p.Params)+len(overrides))
	for k, v := range p.Params {
		merged[snakeKey(k)] = v
	}
	for k, v := range overrides {
		merged[snakeKey(k)] = v
	}
	if err := p.validate(merged); err != nil {
		return "", nil, err
	}
	return p.Kind, merged, nil
}

// Build 用预设构造策略实例。
func (r *PresetRegistry) Build(id string, overrides map[string]any) (Strategy, error) {
	kind, params, err := r.Resolve(id, overrides)
	if err != nil {
		return nil, err
	}
	return New(kind, params)
}

func (r *PresetRegistry) reload() error {
	file, err := readPresetFile(r.path)
	if err != nil {
		return err
	}
	presets := make(map[string]Preset, len(file.Presets))
	for name, p := range file.Presets {
		norm, err := normalizePreset(name, p)
		if err != nil {
			presetLog.Errorf("跳过预设 %s: %v", name, err)
			continue
		}
		presets[norm.ID] = norm
	}
	r.mu.Lock()
	r.snapshot = PresetSnapshot{
		Version:  r.snapshot.Version + 1,
		LoadedAt: time.Now(),
		Presets:  presets,
	}
	r.mu.Unlock()
	presetLog.Infof("从 %s 加载 %d 个预设", filepath.Base(r.path), len(presets))
	return nil
}

func (r *PresetRegistry) notifyListeners() {
	r.mu.RLock()
	snap := clonePresetSnapshot(r.snapshot)
	listeners := append([]PresetListener(nil), r.listeners...)
	r.mu.RUnlock()
	for _, fn := range listeners {
		go func(cb PresetListener) {
			defer func() {
				if rec := recover(); rec != nil {
					presetLog.Errorf("listener panic: %v", rec)
				}
			}()
			cb(snap)
		}(fn)
	}
}

func normalizePreset(name string, p Preset) (Preset, error) {
	p.ID = strings.TrimSpace(p.ID)
	if p.ID == "" {
		p.ID = strings.TrimSpace(name)
	}
	kind, err := ParseKind(string(p.Kind))
	if err != nil {
		return Preset{}, err
	}
	p.Kind = kind
	if p.Version <= 0 {
		p.Version = 1
	}
	p.Description = strings.TrimSpace(p.Description)
	normalized := make(map[string]any, len(p.Params))
	for k, v := range p.Params {
		normalized[snakeKey(k)] = v
	}
	p.Params = normalized
	if len(p.Schema) > 0 {
		compiled, err := compileSchema(p.Schema)
		if err != nil {
			return Preset{}, fmt.Errorf("compile schema: %w", err)
		}
		p.schemaCompiled = compiled
	}
	if err := p.validate(p.Params); err != nil {
		return Preset{}, err
	}
	return p, nil
}

func (p Preset) validate(params map[string]any) error {
	if err := ValidateParams(p.Kind, params); err != nil {
		return err
	}
	if p.schemaCompiled != nil {
		if err := p.schemaCompiled.Validate(sanitizeParams(params)); err != nil {
			return fmt.Errorf("preset %s: %w", p.ID, err)
		}
	}
	return nil
}

func clonePresetSnapshot(src PresetSnapshot) PresetSnapshot {
	dst := PresetSnapshot{
		Version:  src.Version,
		LoadedAt: src.LoadedAt,
		Presets:  make(map[string]Preset, len(src.Presets)),
	}
	for id, p := range src.Presets {
		dst.Presets[id] = p
	}
	return dst
}

func readPresetFile(path string) (PresetFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return PresetFile{}, fmt.Errorf("read preset file failed: %w", err)
	}
	var file PresetFile
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return PresetFile{}, fmt.Errorf("parse preset file failed: %w", err)
	}
	return file, nil
}

var (
	kindSchemaOnce sync.Once
	kindSchemas    map[Kind]*jsonschema.Schema
	kindSchemaErr  error
)

// ValidateParams 按策略参数结构生成的 JSON schema 校验参数类型与键名。
func ValidateParams(kind Kind, params map[string]any) error {
	kindSchemaOnce.Do(func() {
		kindSchemas = make(map[Kind]*jsonschema.Schema)
		for _, k := range Kinds() {
			def, _ := DefaultParams(k)
			compiled, err := compileSchema(ParamsSchema(def))
			if err != nil {
				kindSchemaErr = fmt.Errorf("compile %s schema: %w", k, err)
				return
			}
			kindSchemas[k] = compiled
		}
	})
	if kindSchemaErr != nil {
		return kindSchemaErr
	}
	schema, ok := kindSchemas[kind]
	if !ok {
		return fmt.Errorf("unknown strategy %q", kind)
	}
	normalized := make(map[string]any, len(params))
	for k, v := range params {
		normalized[snakeKey(k)] = v
	}
	if err := schema.Validate(sanitizeParams(normalized)); err != nil {
		return fmt.Errorf("invalid %s params: %w", kind, err)
	}
	return nil
}

// ParamsSchema 根据参数结构体的 json tag 生成 JSON schema。
func ParamsSchema(params any) map[string]any {
	props := make(map[string]any)
	t := reflect.TypeOf(params)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t != nil && t.Kind() == reflect.Struct {
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			name := strings.Split(f.Tag.Get("json"), ",")[0]
			if name == "" || name == "-" {
				continue
			}
			switch f.Type.Kind() {
			case reflect.Bool:
				props[name] = map[string]any{"type": "boolean"}
			case reflect.Int, reflect.Int64, reflect.Int32:
				props[name] = map[string]any{"type": "integer", "minimum": 0}
			case reflect.Float64, reflect.Float32:
				props[name] = map[string]any{"type": "number"}
			default:
				props[name] = map[string]any{}
			}
		}
	}
	return map[string]any{
		"type":                 "object",
		"properties":           props,
		"additionalProperties": false,
	}
}

func compileSchema(data map[string]any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	return compiler.Compile("schema.json")
}

// sanitizeParams 把字符串形式的数字/布尔转为对应类型（查询参数与表单都是字符串）。
func sanitizeParams(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			out[k] = sanitizeParams(child)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = sanitizeParams(child)
		}
		return out
	case string:
		s := strings.TrimSpace(val)
		if b, err := strconv.ParseBool(s); err == nil && !isNumeric(s) {
			return b
		}
		if num, err := strconv.ParseFloat(s, 64); err == nil {
			return num
		}
		return val
	case int:
		return float64(val)
	case int64:
		return float64(val)
	default:
		return val
	}
}

func isNumeric(s string) bool {
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}
