// Package prompts holds the per-model system prompt table.
// The table is data: it is loaded from YAML and can be reloaded at runtime
// so new models can be onboarded without a rebuild.
package prompts

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultTable []byte

type Directives struct {
	Language     string `yaml:"language"`
	Capabilities string `yaml:"capabilities"`
	Math         string `yaml:"math"`
}

type tableData struct {
	DefaultIdentity   string            `yaml:"default-identity"`
	FormattingRules   string            `yaml:"formatting-rules"`
	Directives        Directives        `yaml:"directives"`
	CodeReinforcement string            `yaml:"code-reinforcement"`
	Models            map[string]string `yaml:"models"`
}

// Table resolves system prompts by model id. Safe for concurrent use.
type Table struct {
	mu   sync.RWMutex
	data tableData

	watcher *fsnotify.Watcher
	stop    chan struct{}
}

// Default returns the table compiled into the binary.
func Default() *Table {
	t, err := Parse(defaultTable)
	if err != nil {
		panic(fmt.Sprintf("prompts: embedded table is invalid: %v", err))
	}
	return t
}

func Parse(raw []byte) (*Table, error) {
	data, err := decode(raw)
	if err != nil {
		return nil, err
	}
	return &Table{data: data}, nil
}

// LoadFile reads a table from path. Fields left empty fall back to the embedded defaults.
func LoadFile(path string) (*Table, error) {
	t := &Table{}
	if err := t.reload(path); err != nil {
		return nil, err
	}
	return t, nil
}

func decode(raw []byte) (tableData, error) {
	var base tableData
	if err := yaml.Unmarshal(defaultTable, &base); err != nil {
		return tableData{}, fmt.Errorf("failed to parse embedded prompt table: %w", err)
	}
	if len(raw) == 0 {
		return base, nil
	}

	var data tableData
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return tableData{}, fmt.Errorf("failed to parse prompt table: %w", err)
	}
	if data.DefaultIdentity == "" {
		data.DefaultIdentity = base.DefaultIdentity
	}
	if data.FormattingRules == "" {
		data.FormattingRules = base.FormattingRules
	}
	if data.Directives == (Directives{}) {
		data.Directives = base.Directives
	}
	if data.CodeReinforcement == "" {
		data.CodeReinforcement = base.CodeReinforcement
	}
	if data.Models == nil {
		data.Models = map[string]string{}
	}
	return data, nil
}

func (t *Table) reload(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read prompt table %s: %w", path, err)
	}
	data, err := decode(raw)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.data = data
	t.mu.Unlock()
	return nil
}

// Identity returns the model's own identity prompt, or the generic one.
func (t *Table) Identity(modelID string) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if p, ok := t.data.Models[modelID]; ok && p != "" {
		return p
	}
	return t.data.DefaultIdentity
}

// SystemPrompt is the full injected system content for modelID:
// identity, code formatting rules, then language/capability/math directives.
// The formatting rules are always present.
func (t *Table) SystemPrompt(modelID string) string {
	identity := t.Identity(modelID)

	t.mu.RLock()
	defer t.mu.RUnlock()
	parts := []string{identity, t.data.FormattingRules}
	for _, d := range []string{t.data.Directives.Language, t.data.Directives.Capabilities, t.data.Directives.Math} {
		if d != "" {
			parts = append(parts, d)
		}
	}
	return strings.Join(parts, "\n\n")
}

func (t *Table) FormattingRules() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.data.FormattingRules
}

func (t *Table) CodeReinforcement() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.data.CodeReinforcement
}

// Models lists the model ids that have a dedicated identity prompt.
func (t *Table) Models() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.data.Models))
	for id := range t.data.Models {
		out = append(out, id)
	}
	return out
}

// Watch reloads the table whenever path changes. A failed reload keeps the previous table.
func (t *Table) Watch(path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// Watch the directory: editors often replace the file instead of writing it.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return err
	}

	t.mu.Lock()
	t.watcher = watcher
	t.stop = make(chan struct{})
	stop := t.stop
	t.mu.Unlock()

	target := filepath.Clean(path)
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				time.Sleep(100 * time.Millisecond)
				if err := t.reload(path); err != nil {
					log.Errorf("Failed to reload prompt table: %v", err)
					continue
				}
				log.Infof("Prompt table reloaded from %s", path)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Errorf("Prompt table watcher error: %v", err)
			case <-stop:
				return
			}
		}
	}()
	return nil
}

func (t *Table) Close() error {
	t.mu.Lock()
	watcher, stop := t.watcher, t.stop
	t.watcher, t.stop = nil, nil
	t.mu.Unlock()

	if watcher == nil {
		return nil
	}
	close(stop)
	return watcher.Close()
}
