package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// Defaults are the locations pv uses when nothing else is configured.
type Defaults struct {
	ConfigPath string
	BaseDir    string
	LogDir     string
}

// GetDefaults resolves each location from the first source that is set:
//
//	config: $PV_CONFIG_PATH, $XDG_CONFIG_HOME/pv.toml, ~/.config/pv.toml
//	data:   $PV_HOME, $XDG_DATA_HOME/pv, ~/.local/share/pv
//
// The home directory is only looked up when a fallback needs it.
func GetDefaults() (*Defaults, error) {
	configPath, err := resolve("PV_CONFIG_PATH", "XDG_CONFIG_HOME", "pv.toml", ".config")
	if err != nil {
		return nil, err
	}
	baseDir, err := resolve("PV_HOME", "XDG_DATA_HOME", "pv", ".local", "share")
	if err != nil {
		return nil, err
	}

	return &Defaults{
		ConfigPath: configPath,
		BaseDir:    baseDir,
		LogDir:     filepath.Join(baseDir, "log"),
	}, nil
}

// resolve returns $override, else $xdg/name, else ~/homeRel.../name.
func resolve(override, xdg, name string, homeRel ...string) (string, error) {
	if p := os.Getenv(override); p != "" {
		return p, nil
	}
	if dir := os.Getenv(xdg); dir != "" {
		return filepath.Join(dir, name), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(append(append([]string{home}, homeRel...), name)...), nil
}
