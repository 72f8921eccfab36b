// Package settings persists host preferences as JSON under the user's
// config directory.
package settings

import (
	"encoding/json"
	"os"
	"path/filepath"
)

const appDir = "deskcast"

// HostSettings holds persistable host preferences
type HostSettings struct {
	Signal    string `json:"signal,omitempty"` // relay URL; empty runs a local relay
	Codec     string `json:"codec"`
	Quality   string `json:"quality"`
	FPS       int    `json:"fps"`
	Source    string `json:"source"`
	Refresh   int    `json:"refresh"`
	PointerHz int    `json:"pointerHz"`

	TURNServer string `json:"turnServer,omitempty"`
	TURNUser   string `json:"turnUser,omitempty"`
	TURNPass   string `json:"turnPass,omitempty"`
	ForceRelay bool   `json:"forceRelay,omitempty"`
}

// DefaultSettings returns the default settings
func DefaultSettings() HostSettings {
	return HostSettings{
		Codec:     "vp8",
		Quality:   "high",
		FPS:       30,
		Source:    "ximage",
		Refresh:   60,
		PointerHz: 120,
	}
}

// Manager handles loading and saving settings at a fixed path
type Manager struct {
	path     string
	settings HostSettings
}

// NewManager creates a settings manager with the default config path
func NewManager() (*Manager, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	return &Manager{path: path}, nil
}

// NewManagerAt creates a settings manager reading and writing path
func NewManagerAt(path string) *Manager {
	return &Manager{path: path}
}

// ConfigPath returns the config file path.
// Uses XDG_CONFIG_HOME if set, otherwise the OS user config directory.
func ConfigPath() (string, error) {
	var configDir string

	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		configDir = filepath.Join(xdg, appDir)
	} else {
		userConfigDir, err := os.UserConfigDir()
		if err != nil {
			return "", err
		}
		configDir = filepath.Join(userConfigDir, appDir)
	}

	return filepath.Join(configDir, "config.json"), nil
}

// Path returns the file the manager uses
func (m *Manager) Path() string {
	return m.path
}

// Load reads settings from the config file.
// Returns default settings if file doesn't exist or is invalid.
func (m *Manager) Load() (HostSettings, error) {
	m.settings = DefaultSettings()

	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			// File doesn't exist - use defaults, not an error
			return m.settings, nil
		}
		return m.settings, err
	}

	// Parse JSON, keeping defaults for missing fields
	if err := json.Unmarshal(data, &m.settings); err != nil {
		m.settings = DefaultSettings()
		return m.settings, nil
	}

	m.validate()
	return m.settings, nil
}

// validate resets out-of-range values to their defaults
func (m *Manager) validate() {
	def := DefaultSettings()
	if m.settings.FPS <= 0 || m.settings.FPS > 120 {
		m.settings.FPS = def.FPS
	}
	if m.settings.Refresh <= 0 {
		m.settings.Refresh = def.Refresh
	}
	if m.settings.PointerHz <= 0 || m.settings.PointerHz > 1000 {
		m.settings.PointerHz = def.PointerHz
	}
	if m.settings.Source == "" {
		m.settings.Source = def.Source
	}
}

// Save writes settings to the config file
func (m *Manager) Save(settings HostSettings) error {
	m.settings = settings

	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return err
	}

	// Marshal with indentation for readability
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}

	// credentials may be stored
	return os.WriteFile(m.path, data, 0600)
}

// Settings returns the current settings
func (m *Manager) Settings() HostSettings {
	return m.settings
}
