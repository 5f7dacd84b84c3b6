package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
)

const (
	KeyCurrentView = "app_current_view"
	KeyAgentTab    = "agent_active_tab"
)

const (
	ViewKanban    = "kanban"
	ViewDashboard = "dashboard"
	ViewAgent     = "dashboard-ia"

	TabDashboard = "dashboard"
	TabKanban    = "kanban"
	TabSchedules = "schedules"
)

var (
	Views      = []string{ViewKanban, ViewDashboard, ViewAgent}
	AgentTabs  = []string{TabDashboard, TabKanban, TabSchedules}
	prefValues = map[string][]string{
		KeyCurrentView: Views,
		KeyAgentTab:    AgentTabs,
	}
)

// Prefs is the client-local key/value file that remembers the last view
// and agent tab. It is read once and written on every change.
type Prefs struct {
	path string

	mu     sync.Mutex
	values map[string]string
}

func DefaultPrefsPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, appDir, "prefs.json"), nil
}

func LoadPrefs(path string) (*Prefs, error) {
	prefs := &Prefs{path: path, values: map[string]string{}}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return prefs, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(data, &prefs.values); err != nil {
		return nil, fmt.Errorf("parse prefs: %w", err)
	}
	return prefs, nil
}

func (p *Prefs) CurrentView() string {
	return p.get(KeyCurrentView)
}

func (p *Prefs) SetCurrentView(view string) error {
	return p.set(KeyCurrentView, view)
}

func (p *Prefs) AgentTab() string {
	return p.get(KeyAgentTab)
}

func (p *Prefs) SetAgentTab(tab string) error {
	return p.set(KeyAgentTab, tab)
}

// get falls back to the first allowed value when the stored one is unknown.
func (p *Prefs) get(key string) string {
	p.mu.Lock()
	defer p.mu.Unlock()

	allowed := prefValues[key]
	if value := p.values[key]; slices.Contains(allowed, value) {
		return value
	}
	return allowed[0]
}

func (p *Prefs) set(key, value string) error {
	if !slices.Contains(prefValues[key], value) {
		return fmt.Errorf("invalid %s %q", key, value)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.values[key] = value
	if err := EnsureDir(p.path); err != nil {
		return err
	}
	data, err := json.MarshalIndent(p.values, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(p.path, data, 0o644)
}
