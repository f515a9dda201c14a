// Package proc starts and stops toolchain executables across platforms.
package proc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/mitchellh/go-ps"
)

// ErrUnsupportedOS indicates the current OS is not supported for process control.
var ErrUnsupportedOS = errors.New("unsupported operating system")

// Start launches an executable detached from the current process using
// common, built-in tools:
// - Linux/macOS: direct exec
// - Windows:     `cmd.exe /C start <executable>`
// The commands are started asynchronously; the OS takes over the rest.
func Start(ctx context.Context, executable string, args ...string) error {
	osName := strings.ToLower(runtime.GOOS)

	switch {
	case strings.Contains(osName, "linux") || strings.Contains(osName, "darwin"):
		return exec.CommandContext(ctx, executable, args...).Start()
	case strings.Contains(osName, "windows"):
		windowsArgs := append([]string{"/C", "start", executable}, args...)

		return exec.CommandContext(ctx, "cmd.exe", windowsArgs...).Start()
	default:
		return fmt.Errorf("unsupported operating system: %s: %w", runtime.GOOS, ErrUnsupportedOS)
	}
}

// TerminateByName kills every process whose executable name is one of names,
// skipping the calling process.
func TerminateByName(names ...string) error {
	targets := make(map[string]struct{}, len(names))
	for _, name := range names {
		targets[name] = struct{}{}
	}

	processList, err := ps.Processes()
	if err != nil {
		return err
	}

	thisProcessID := os.Getpid()

	for _, process := range processList {
		processID := process.Pid()
		if processID == thisProcessID {
			continue
		}

		if _, found := targets[process.Executable()]; !found {
			continue
		}

		var runningProcess *os.Process

		runningProcess, err = os.FindProcess(processID)
		if err != nil {
			return err
		}

		if err = runningProcess.Kill(); err != nil {
			return err
		}
	}

	return nil
}

// ExecutableExtension returns ".exe" on Windows and "" elsewhere.
func ExecutableExtension() string {
	if strings.Contains(strings.ToLower(runtime.GOOS), "windows") {
		return ".exe"
	}

	return ""
}

// WithExtension appends the platform executable extension to a base name.
func WithExtension(base string) string {
	return base + ExecutableExtension()
}
