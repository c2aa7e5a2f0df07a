package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/bryanchriswhite/ColorChecker/internal/logger"
	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Change is a parameter update delivered to subscribers.
type Change struct {
	Name  string
	Value string
}

// ChangeFunc receives the name and new value of a changed parameter.
type ChangeFunc func(name, value string)

// AllParameters subscribes to every parameter.
const AllParameters = "*"

// Manager handles configuration
type Manager struct {
	configPath string
	config     *Config
	mu         sync.RWMutex
	// wmu serializes writers so a failed save can be rolled back.
	wmu sync.Mutex

	subMu sync.RWMutex
	subs  map[string][]ChangeFunc

	qmu   sync.Mutex
	queue []Change
	wake  chan struct{}

	done      chan struct{}
	closeOnce sync.Once
}

// DefaultPath returns $HOME/.config/colorchecker/config.yaml
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "colorchecker", "config.yaml"), nil
}

// NewManager loads configFile (or the default path), creating it with
// defaults when missing, and starts the change dispatcher.
func NewManager(configFile string) (*Manager, error) {
	path := configFile
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	m := &Manager{
		configPath: path,
		subs:       make(map[string][]ChangeFunc),
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
	}

	log := logger.WithComponent("config")
	cfg, err := m.read()
	switch {
	case os.IsNotExist(err):
		log.Info().Str("path", path).Msg("Config file not found, creating new config")
		m.config = Defaults()
		if err := m.Save(); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to read config: %w", err)
	default:
		m.config = cfg
	}

	go m.dispatch()

	log.Info().Str("path", path).Msg("Config loaded")
	return m, nil
}

func (m *Manager) read() (*Config, error) {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return nil, err
	}
	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", m.configPath, err)
	}
	if err := cfg.Parameters.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to disk
func (m *Manager) Save() error {
	m.mu.RLock()
	data, err := yaml.Marshal(m.config)
	m.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	tmp := m.configPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := os.Rename(tmp, m.configPath); err != nil {
		return fmt.Errorf("failed to replace config: %w", err)
	}
	return nil
}

// GetConfigPath returns the path of the config file
func (m *Manager) GetConfigPath() string {
	return m.configPath
}

// Get returns a copy of the current configuration
func (m *Manager) Get() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return *m.config
}

// Parameters returns a copy of the analysis parameters
func (m *Manager) Parameters() Parameters {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config.Parameters
}

// GetParam returns the value of a parameter formatted as a string
func (m *Manager) GetParam(name string) (string, error) {
	p, err := lookup(name)
	if err != nil {
		return "", err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return p.get(&m.config.Parameters), nil
}

// SetParam validates and stores a user-supplied parameter value, persists
// it and notifies subscribers. Read-only parameters are rejected.
func (m *Manager) SetParam(name, value string) error {
	p, err := lookup(name)
	if err != nil {
		return err
	}
	if p.readOnly {
		return fmt.Errorf("%w: %s", ErrReadOnly, name)
	}
	return m.update(func(params *Parameters) error {
		return p.set(params, value)
	})
}

// SetColor stores a new reference color.
func (m *Manager) SetColor(r, g, b float64) error {
	return m.update(func(p *Parameters) error {
		for name, v := range map[string]float64{"ColorR": r, "ColorG": g, "ColorB": b} {
			pr, _ := lookup(name)
			if err := pr.set(p, strconv.FormatFloat(v, 'f', -1, 64)); err != nil {
				return err
			}
		}
		return nil
	})
}

// SetResolution records the negotiated stream size.
func (m *Manager) SetResolution(width, height int) error {
	return m.update(func(p *Parameters) error {
		p.Width, p.Height = width, height
		return nil
	})
}

// Update applies fn to a copy of the whole configuration and persists it.
// Parameter changes are validated and notified.
func (m *Manager) Update(fn func(cfg *Config) error) error {
	m.wmu.Lock()
	defer m.wmu.Unlock()

	m.mu.Lock()
	next := *m.config
	if err := fn(&next); err != nil {
		m.mu.Unlock()
		return err
	}
	if err := next.Parameters.Validate(); err != nil {
		m.mu.Unlock()
		return err
	}
	changes := diff(m.config.Parameters, next.Parameters)
	prev := m.config
	m.config = &next
	m.mu.Unlock()

	if err := m.Save(); err != nil {
		m.mu.Lock()
		m.config = prev
		m.mu.Unlock()
		return err
	}
	m.enqueue(changes)
	return nil
}

func (m *Manager) update(fn func(p *Parameters) error) error {
	return m.Update(func(cfg *Config) error {
		return fn(&cfg.Parameters)
	})
}

// OnChange registers fn for changes of name, or of every parameter when
// name is AllParameters. Callbacks run on a single dispatcher goroutine in
// the order the changes were made.
func (m *Manager) OnChange(name string, fn ChangeFunc) error {
	if name != AllParameters {
		if _, err := lookup(name); err != nil {
			return err
		}
	}
	m.subMu.Lock()
	m.subs[name] = append(m.subs[name], fn)
	m.subMu.Unlock()
	return nil
}

func (m *Manager) enqueue(changes []Change) {
	if len(changes) == 0 {
		return
	}
	m.qmu.Lock()
	m.queue = append(m.queue, changes...)
	m.qmu.Unlock()
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Manager) dispatch() {
	for {
		select {
		case <-m.done:
			return
		case <-m.wake:
		}
		for {
			m.qmu.Lock()
			if len(m.queue) == 0 {
				m.qmu.Unlock()
				break
			}
			c := m.queue[0]
			m.queue = m.queue[1:]
			m.qmu.Unlock()
			m.deliver(c)
		}
	}
}

func (m *Manager) deliver(c Change) {
	m.subMu.RLock()
	fns := append(append([]ChangeFunc(nil), m.subs[c.Name]...), m.subs[AllParameters]...)
	m.subMu.RUnlock()

	logger.WithComponent("config").Debug().Str("param", c.Name).Str("value", c.Value).Msg("Parameter changed")
	for _, fn := range fns {
		fn(c.Name, c.Value)
	}
}

// Reload re-reads the config file and notifies changed parameters. An
// invalid file is rejected and the current configuration kept.
func (m *Manager) Reload() error {
	m.wmu.Lock()
	defer m.wmu.Unlock()

	cfg, err := m.read()
	if err != nil {
		return err
	}
	m.mu.Lock()
	changes := diff(m.config.Parameters, cfg.Parameters)
	m.config = cfg
	m.mu.Unlock()
	m.enqueue(changes)
	return nil
}

// Watch reloads the configuration whenever the file is modified on disk,
// until ctx is done.
func (m *Manager) Watch(ctx context.Context) error {
	log := logger.WithComponent("config")

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory so atomic renames are seen.
	if err := watcher.Add(filepath.Dir(m.configPath)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(m.configPath), err)
	}

	debounced := debounce.New(200 * time.Millisecond)
	reload := func() {
		if err := m.Reload(); err != nil {
			log.Error().Err(err).Msg("Failed to reload config, keeping current values")
			return
		}
		log.Debug().Msg("Config reloaded")
	}

	target := filepath.Clean(m.configPath)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				debounced(reload)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("Config watcher error")
		}
	}
}

// Close stops the change dispatcher
func (m *Manager) Close() {
	m.closeOnce.Do(func() { close(m.done) })
}
