// Package deps reports whether external programs the daemon shells out to
// are installed.
package deps

import (
	"os/exec"
	"strings"
)

// Status represents the installation status of a dependency
type Status struct {
	Name      string
	Installed bool
	Path      string
	Version   string
}

// Check looks name up in PATH and, when found, runs it with versionArg and
// keeps the first output line as the version.
func Check(name, versionArg string) Status {
	path, err := exec.LookPath(name)
	if err != nil {
		return Status{Name: name, Installed: false}
	}

	status := Status{
		Name:      name,
		Installed: true,
		Path:      path,
	}

	cmd := exec.Command(path, versionArg)
	output, err := cmd.CombinedOutput()
	if err == nil {
		lines := strings.Split(string(output), "\n")
		if len(lines) > 0 {
			status.Version = strings.TrimSpace(lines[0])
		}
	}

	return status
}

// CheckWhisperCli checks the whisper.cpp binary used for local transcription.
func CheckWhisperCli(binary string) Status {
	if binary == "" {
		binary = "whisper-cli"
	}
	return Check(binary, "--version")
}

// CheckNotifySend checks the binary behind desktop notifications.
func CheckNotifySend() Status {
	return Check("notify-send", "--version")
}
