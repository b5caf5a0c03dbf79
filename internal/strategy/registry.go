package strategy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"optq/internal/logger"
	"optq/internal/types"
)

// Template 是策略目录中的一项：默认进出场参数 + 参数校验 schema。
type Template struct {
	ID          string                 `yaml:"id"`
	Description string                 `yaml:"description"`
	Enabled     bool                   `yaml:"enabled"`
	Defaults    TemplateDefaults       `yaml:"defaults"`
	Schema      map[string]interface{} `yaml:"schema"`

	schemaCompiled *jsonschema.Schema
}

// TemplateDefaults 是新建自动化时的缺省进出场条件。
type TemplateDefaults struct {
	Entry types.EntryCriteria `yaml:"entry" json:"entry"`
	Exit  types.ExitCriteria  `yaml:"exit" json:"exit"`
}

// FileConfig 映射 strategies.yaml 的顶层结构。
type FileConfig struct {
	Strategies map[string]Template `yaml:"strategies"`
}

// Snapshot 是某一时刻的目录快照。
type Snapshot struct {
	Version   int64
	LoadedAt  time.Time
	Templates map[string]Template
}

// ChangeListener 在目录热重载后触发。
type ChangeListener func(Snapshot)

// Registry 管理策略目录：加载 YAML、编译 schema、监听文件变更。
// 目录中的每一项都必须对应内置策略类型，未知类型在加载时报错。
type Registry struct {
	path string

	mu        sync.RWMutex
	snapshot  Snapshot
	listeners []ChangeListener

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewRegistry 读取策略目录并开始监听文件更新。
func NewRegistry(path string) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("strategy registry requires path")
	}
	r := &Registry{path: path, done: make(chan struct{})}
	if err := r.reload(); err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("strategy watcher init failed: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("strategy watcher add %s failed: %w", path, err)
	}
	r.watcher = watcher
	go r.watchLoop()
	return r, nil
}

// Close 停止文件监听。
func (r *Registry) Close() error {
	if r == nil {
		return nil
	}
	close(r.done)
	if r.watcher != nil {
		return r.watcher.Close()
	}
	return nil
}

func (r *Registry) watchLoop() {
	for {
		select {
		case <-r.done:
			return
		case evt, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if !evt.Has(fsnotify.Write) && !evt.Has(fsnotify.Create) {
				continue
			}
			if err := r.reload(); err != nil {
				logger.Errorf("strategy catalog reload failed: %v", err)
				continue
			}
			logger.Infof("strategy catalog reloaded from %s", r.path)
			r.notifyListeners()
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			logger.Warnf("strategy watcher error: %v", err)
		}
	}
}

func (r *Registry) reload() error {
	raw, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("read strategy catalog failed: %w", err)
	}
	var fc FileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return fmt.Errorf("parse strategy catalog failed: %w", err)
	}
	if len(fc.Strategies) == 0 {
		return fmt.Errorf("strategy catalog %s has no strategies", r.path)
	}

	templates := make(map[string]Template, len(fc.Strategies))
	for id, tpl := range fc.Strategies {
		id = strings.ToLower(strings.TrimSpace(id))
		if _, ok := LookupKind(id); !ok {
			return fmt.Errorf("strategy catalog: unknown kind %q", id)
		}
		tpl.ID = id
		if len(tpl.Schema) > 0 {
			compiled, err := compileSchema(id, tpl.Schema)
			if err != nil {
				return fmt.Errorf("strategy %s schema invalid: %w", id, err)
			}
			tpl.schemaCompiled = compiled
		}
		templates[id] = tpl
	}

	r.mu.Lock()
	r.snapshot = Snapshot{
		Version:   r.snapshot.Version + 1,
		LoadedAt:  time.Now(),
		Templates: templates,
	}
	r.mu.Unlock()
	return nil
}

func compileSchema(id string, schema map[string]interface{}) (*jsonschema.Schema, error) {
	buf, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	url := "catalog://" + id + ".json"
	if err := compiler.AddResource(url, bytes.NewReader(buf)); err != nil {
		return nil, err
	}
	return compiler.Compile(url)
}

// Snapshot 返回当前目录快照（浅拷贝）。
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := Snapshot{
		Version:   r.snapshot.Version,
		LoadedAt:  r.snapshot.LoadedAt,
		Templates: make(map[string]Template, len(r.snapshot.Templates)),
	}
	for id, tpl := range r.snapshot.Templates {
		out.Templates[id] = tpl
	}
	return out
}

// Template 按 ID 返回目录项。
func (r *Registry) Template(id string) (Template, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tpl, ok := r.snapshot.Templates[strings.ToLower(strings.TrimSpace(id))]
	return tpl, ok
}

// Enabled 判断某策略类型是否在目录中启用。
func (r *Registry) Enabled(id string) bool {
	tpl, ok := r.Template(id)
	return ok && tpl.Enabled
}

// ValidateParams 用目录内的 schema 校验自动化参数负载。
// 无 schema 的目录项放行。
func (r *Registry) ValidateParams(id string, params map[string]interface{}) error {
	tpl, ok := r.Template(id)
	if !ok {
		return fmt.Errorf("strategy %q not in catalog", id)
	}
	if tpl.schemaCompiled == nil {
		return nil
	}
	// jsonschema 校验要求标准 JSON 类型，先走一轮序列化归一。
	buf, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal params failed: %w", err)
	}
	var doc interface{}
	if err := json.Unmarshal(buf, &doc); err != nil {
		return fmt.Errorf("normalize params failed: %w", err)
	}
	if err := tpl.schemaCompiled.Validate(doc); err != nil {
		return fmt.Errorf("params rejected by %s schema: %w", id, err)
	}
	return nil
}

// Subscribe 注册热重载回调。
func (r *Registry) Subscribe(fn ChangeListener) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

func (r *Registry) notifyListeners() {
	r.mu.RLock()
	listeners := make([]ChangeListener, len(r.listeners))
	copy(listeners, r.listeners)
	snap := r.snapshot
	r.mu.RUnlock()
	for _, fn := range listeners {
		fn(snap)
	}
}
