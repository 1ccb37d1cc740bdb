package app

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolvePaths_ResolvesConfigDirectory(t *testing.T) {
	configHome := filepath.Join(t.TempDir(), "cfg")
	t.Setenv("XDG_CONFIG_HOME", configHome)

	paths, err := ResolvePaths()
	if err != nil {
		t.Fatalf("resolve paths: %v", err)
	}

	if paths.RootDir != filepath.Join(configHome, Name) {
		t.Fatalf("unexpected root dir: %q", paths.RootDir)
	}
	if paths.DBFile != filepath.Join(configHome, Name, DBFilename) {
		t.Fatalf("unexpected db file: %q", paths.DBFile)
	}
	if _, err := os.Stat(paths.RootDir); err != nil {
		t.Fatalf("expected root directory to exist: %v", err)
	}
}

func TestPathsIn(t *testing.T) {
	root := filepath.Join(t.TempDir(), "nested", "slipmux")
	paths, err := PathsIn(root)
	if err != nil {
		t.Fatalf("paths in: %v", err)
	}
	if paths.ConfigFile != filepath.Join(root, ConfigFilename) || paths.LogFile != filepath.Join(root, LogFilename) {
		t.Fatalf("unexpected paths: %+v", paths)
	}
}
