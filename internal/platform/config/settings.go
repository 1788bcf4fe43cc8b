package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/ini.v1"
)

const (
	DefaultPort  = 8080
	DefaultDebug = false

	settingsDir  = "castnote"
	settingsFile = "settings.ini"
)

// ErrInvalidPort is returned for ports outside 1..65535.
var ErrInvalidPort = errors.New("port must be between 1 and 65535")

// Settings is the persisted configuration: the content server port and the
// debug logging flag. Nothing else is persisted.
type Settings struct {
	Port  int
	Debug bool
}

// DefaultSettings returns port 8080 with debug logging off.
func DefaultSettings() Settings {
	return Settings{Port: DefaultPort, Debug: DefaultDebug}
}

// Validate checks the port range.
func (s Settings) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, s.Port)
	}
	return nil
}

// SettingsPath returns $XDG_CONFIG_HOME/castnote/settings.ini, or the
// equivalent under ~/.config when XDG_CONFIG_HOME is unset.
func SettingsPath() (string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("locate settings: %w", err)
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, settingsDir, settingsFile), nil
}

// LoadSettings reads path. A missing file yields the defaults; keys that are
// absent or unparsable keep their default value.
func LoadSettings(path string) (Settings, error) {
	s := DefaultSettings()
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}

	cfg, err := ini.LoadSources(ini.LoadOptions{Insensitive: true}, path)
	if err != nil {
		return s, fmt.Errorf("load settings %s: %w", path, err)
	}

	section := cfg.Section("")
	s.Port = section.Key("port").MustInt(s.Port)
	s.Debug = section.Key("debug").MustBool(s.Debug)
	if s.Validate() != nil {
		s.Port = DefaultPort
	}
	return s, nil
}

// SaveSettings writes s to path, creating the parent directory if needed.
func SaveSettings(path string, s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create settings directory: %w", err)
	}

	cfg := ini.Empty()
	section := cfg.Section("")
	section.Key("port").SetValue(strconv.Itoa(s.Port))
	section.Key("debug").SetValue(strconv.FormatBool(s.Debug))
	if err := cfg.SaveTo(path); err != nil {
		return fmt.Errorf("save settings %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides s with CASTNOTE_PORT and CASTNOTE_DEBUG when set.
func ApplyEnv(s Settings) Settings {
	s.Port = GetEnvInt("CASTNOTE_PORT", s.Port)
	s.Debug = GetEnvBool("CASTNOTE_DEBUG", s.Debug)
	return s
}
