package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// Paths stores resolved runtime file locations for config, node state, logs
// and frame captures.
type Paths struct {
	RootDir    string
	ConfigFile string
	DBFile     string
	LogFile    string
	CaptureDir string
}

func ResolvePaths() (Paths, error) {
	cfgRoot, err := os.UserConfigDir()
	if err != nil {
		return Paths{}, fmt.Errorf("resolve config dir: %w", err)
	}
	cacheRoot, err := os.UserCacheDir()
	if err != nil {
		return Paths{}, fmt.Errorf("resolve cache dir: %w", err)
	}

	root := filepath.Join(cfgRoot, Name)
	if err := os.MkdirAll(root, 0o750); err != nil {
		return Paths{}, fmt.Errorf("create app config dir: %w", err)
	}
	captures := filepath.Join(cacheRoot, Name, CaptureDirName)
	if err := os.MkdirAll(captures, 0o750); err != nil {
		return Paths{}, fmt.Errorf("create capture dir: %w", err)
	}

	return Paths{
		RootDir:    root,
		ConfigFile: filepath.Join(root, ConfigFilename),
		DBFile:     filepath.Join(root, DBFilename),
		LogFile:    filepath.Join(root, LogFilename),
		CaptureDir: captures,
	}, nil
}

// WithConfigFile points the paths at an explicit config file. Node state and
// logs then live next to it, so several nodes can run from one machine.
func (p Paths) WithConfigFile(path string) Paths {
	if path == "" {
		return p
	}
	dir := filepath.Dir(path)
	p.RootDir = dir
	p.ConfigFile = path
	p.DBFile = filepath.Join(dir, DBFilename)
	p.LogFile = filepath.Join(dir, LogFilename)

	return p
}
