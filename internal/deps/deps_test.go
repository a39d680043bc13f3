package deps

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func writeTool(t *testing.T, dir, name, output string) {
	t.Helper()
	script := "#!/bin/sh\necho '" + output + "'\n"
	if err := os.WriteFile(filepath.Join(dir, name), []byte(script), 0o755); err != nil {
		t.Fatalf("write tool: %v", err)
	}
}

func TestCheckInstalled(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported")
	}
	dir := t.TempDir()
	writeTool(t, dir, "whisper-cli", "whisper.cpp 1.7.4")
	t.Setenv("PATH", dir)

	status := CheckWhisperCli("")
	if !status.Installed {
		t.Fatal("expected whisper-cli to be found")
	}
	if status.Path != filepath.Join(dir, "whisper-cli") {
		t.Errorf("Path = %q", status.Path)
	}
	if status.Version != "whisper.cpp 1.7.4" {
		t.Errorf("Version = %q", status.Version)
	}
	if status.Name != "whisper-cli" {
		t.Errorf("Name = %q", status.Name)
	}
}

func TestCheckCustomBinary(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported")
	}
	dir := t.TempDir()
	writeTool(t, dir, "whisper-main", "v1")
	t.Setenv("PATH", dir)

	if status := CheckWhisperCli("whisper-main"); !status.Installed || status.Version != "v1" {
		t.Errorf("unexpected status %+v", status)
	}
}

func TestCheckMissing(t *testing.T) {
	t.Setenv("PATH", t.TempDir())

	for _, status := range []Status{CheckWhisperCli(""), CheckNotifySend()} {
		if status.Installed {
			t.Errorf("%s: expected Installed=false", status.Name)
		}
		if status.Path != "" || status.Version != "" {
			t.Errorf("%s: expected empty path and version, got %+v", status.Name, status)
		}
	}
}
