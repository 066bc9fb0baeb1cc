package power

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// ErrUnsupportedOS indicates the current OS is not supported for reboot.
var ErrUnsupportedOS = errors.New("unsupported operating system")

// Reboot triggers an OS reboot using the built-in tools:
// - Linux:  `systemctl reboot`, falling back to `shutdown -r now`
// - macOS:  `shutdown -r now`
// The command is started asynchronously; the OS takes over the rest.
func Reboot(ctx context.Context) error {
	command, err := rebootCommand(runtime.GOOS, exec.LookPath)
	if err != nil {
		return err
	}

	//nolint:gosec // The command is one of the fixed reboot commands above.
	return exec.CommandContext(ctx, command[0], command[1:]...).Start()
}

// rebootCommand picks the reboot command for goos.
func rebootCommand(goos string, lookPath func(string) (string, error)) ([]string, error) {
	osName := strings.ToLower(goos)

	switch {
	case strings.Contains(osName, "linux"):
		if _, err := lookPath("systemctl"); err == nil {
			return []string{"systemctl", "reboot"}, nil
		}

		return []string{"shutdown", "-r", "now"}, nil
	case strings.Contains(osName, "darwin"):
		return []string{"shutdown", "-r", "now"}, nil
	default:
		return nil, fmt.Errorf("reboot on %s: %w", goos, ErrUnsupportedOS)
	}
}
