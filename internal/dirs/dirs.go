package dirs

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
)

const appName = "dvtrack"

// AppName returns the canonical application name for directory paths.
func AppName() string {
	return appName
}

// ConfigDir returns the directory searched for config.{yaml,json,toml}.
// - Linux: $XDG_CONFIG_HOME/dvtrack or ~/.config/dvtrack
// - macOS: ~/Library/Application Support/dvtrack
// - Windows: %AppData%/dvtrack
func ConfigDir() (string, error) {
	switch runtime.GOOS {
	case "darwin":
		return underHome("Library", "Application Support", appName)
	case "linux":
		return xdg("XDG_CONFIG_HOME", ".config")
	default:
		cfg, err := os.UserConfigDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(cfg, appName), nil
	}
}

// StateDir returns the directory holding logs.
// - Linux: $XDG_STATE_HOME/dvtrack or ~/.local/state/dvtrack
// - macOS: ~/Library/Application Support/dvtrack/state
// - Windows: %LocalAppData%/dvtrack/state (fallback to ConfigDir/state)
func StateDir() (string, error) {
	switch runtime.GOOS {
	case "darwin":
		return underHome("Library", "Application Support", appName, "state")
	case "linux":
		return xdg("XDG_STATE_HOME", filepath.Join(".local", "state"))
	default:
		if la := os.Getenv("LOCALAPPDATA"); la != "" {
			return filepath.Join(la, appName, "state"), nil
		}
		cfg, err := ConfigDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(cfg, "state"), nil
	}
}

// LogFile returns the default log file path. The TUI owns stdout, so logs
// never go to the terminal.
func LogFile() (string, error) {
	d, err := StateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(d, appName+".log"), nil
}

// Ensure creates the directory if it doesn't exist.
func Ensure(path string) error {
	if path == "" {
		return errors.New("empty path")
	}
	return os.MkdirAll(path, 0o755)
}

// EnsureAll ensures the config and state dirs exist.
func EnsureAll() error {
	for _, dir := range []func() (string, error){ConfigDir, StateDir} {
		p, err := dir()
		if err != nil {
			continue
		}
		if err := Ensure(p); err != nil {
			return err
		}
	}
	return nil
}

func xdg(env, fallback string) (string, error) {
	if v := os.Getenv(env); v != "" {
		return filepath.Join(v, appName), nil
	}
	return underHome(fallback, appName)
}

func underHome(elem ...string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(append([]string{home}, elem...)...), nil
}
