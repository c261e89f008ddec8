// Package registry loads the on-disk module registry and keeps it
// current by watching the file for changes. Descriptors are read-mostly
// and never mutated by request handling.
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v2"

	"github.com/luigi-home/luigid/internal/logging"
	"github.com/luigi-home/luigid/internal/validation"
)

// ModuleDescriptor describes one managed unit from the registry file.
type ModuleDescriptor struct {
	Name         string   `yaml:"name" json:"name"`
	ServiceUnit  string   `yaml:"service_unit" json:"service_unit"`
	Capabilities []string `yaml:"capabilities" json:"capabilities"`
	Category     string   `yaml:"category" json:"category"`
	Version      string   `yaml:"version" json:"version,omitempty"`
}

// registryFile is the on-disk format of modules.yaml.
type registryFile struct {
	Modules []ModuleDescriptor `yaml:"modules"`
}

// Registry holds the current descriptor snapshot.
type Registry struct {
	path    string
	mu      sync.RWMutex
	modules map[string]ModuleDescriptor
	logger  *logging.Logger

	watcher  *fsnotify.Watcher
	done     chan struct{}
	once     sync.Once
	onReload func(err error)
}

// OnReload registers a callback invoked after every watcher-triggered
// reload attempt, used for metrics. Set before calling Watch.
func (r *Registry) OnReload(fn func(err error)) {
	r.onReload = fn
}

// Load reads the registry file and returns a Registry. Every descriptor
// is validated at load time; a bad registry is a startup failure.
func Load(path string, logger *logging.Logger) (*Registry, error) {
	if logger == nil {
		logger = logging.Default()
	}

	r := &Registry{
		path:   path,
		logger: logger.WithComponent("registry"),
		done:   make(chan struct{}),
	}

	if err := r.reload(); err != nil {
		return nil, err
	}

	return r, nil
}

// reload reads and validates the registry file, replacing the snapshot
// only if the whole file parses cleanly.
func (r *Registry) reload() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("read registry: %w", err)
	}

	var rf registryFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return fmt.Errorf("parse registry: %w", err)
	}

	modules := make(map[string]ModuleDescriptor, len(rf.Modules))
	for _, m := range rf.Modules {
		if err := validation.ValidateModuleName(m.Name); err != nil {
			return fmt.Errorf("registry entry %q: %w", m.Name, err)
		}
		if m.ServiceUnit == "" {
			m.ServiceUnit = m.Name + ".service"
		}
		if err := validation.ValidateServiceUnit(m.ServiceUnit); err != nil {
			return fmt.Errorf("registry entry %q: %w", m.Name, err)
		}
		if _, dup := modules[m.Name]; dup {
			return fmt.Errorf("registry entry %q: duplicate name", m.Name)
		}
		modules[m.Name] = m
	}

	r.mu.Lock()
	r.modules = modules
	r.mu.Unlock()

	return nil
}

// Watch starts watching the registry file for changes. A rewritten file
// replaces the snapshot; a file that fails to parse keeps the previous
// snapshot and logs the error.
func (r *Registry) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create registry watcher: %w", err)
	}
	r.watcher = watcher

	// Watch the directory: editors and atomic writers replace the file,
	// which drops a watch on the file itself.
	if err := watcher.Add(filepath.Dir(r.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch registry dir: %w", err)
	}

	go r.watchLoop()
	return nil
}

func (r *Registry) watchLoop() {
	var timer *time.Timer
	for {
		select {
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(r.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			// Debounce: editors fire several events per save.
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(200*time.Millisecond, func() {
				err := r.reload()
				if r.onReload != nil {
					r.onReload(err)
				}
				if err != nil {
					r.logger.Error("registry reload failed, keeping previous snapshot", "error", err)
					return
				}
				r.logger.Info("registry reloaded", "modules", r.Count())
			})

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.logger.Error("registry watcher error", "error", err)

		case <-r.done:
			return
		}
	}
}

// Close stops the watcher.
func (r *Registry) Close() error {
	r.once.Do(func() { close(r.done) })
	if r.watcher != nil {
		return r.watcher.Close()
	}
	return nil
}

// Get returns the descriptor for name.
func (r *Registry) Get(name string) (ModuleDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.modules[name]
	return m, ok
}

// List returns all descriptors sorted by name.
func (r *Registry) List() []ModuleDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]ModuleDescriptor, 0, len(r.modules))
	for _, m := range r.modules {
		list = append(list, m)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list
}

// Count returns the number of registered modules.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.modules)
}

// Path returns the registry file path.
func (r *Registry) Path() string {
	return r.path
}
