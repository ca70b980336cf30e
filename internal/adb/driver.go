// File: internal/adb/driver.go

// Package adb implements the device driver over the Android Debug Bridge
// command-line tool. It is the only package that shells out to the device;
// everything above it consumes the schemas.DeviceDriver interface.
package adb

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/droidpilot-cli/api/schemas"
)

// Driver runs adb commands against one device.
type Driver struct {
	binary string
	// serial selects the device when more than one is attached; empty
	// means adb's default.
	serial string
	logger *zap.Logger
}

// Statically assert the interface is satisfied.
var _ schemas.DeviceDriver = (*Driver)(nil)

// NewDriver creates a driver for the given device serial (may be empty).
func NewDriver(serial string, logger *zap.Logger) *Driver {
	return &Driver{
		binary: "adb",
		serial: serial,
		logger: logger.Named("adb"),
	}
}

// RunCommand runs an adb command and returns trimmed stdout. A command that
// exits nonzero but still produced stdout is treated as a success with a
// warning, because several adb subcommands misreport their exit status.
func (d *Driver) RunCommand(ctx context.Context, args ...string) (string, error) {
	out, errText, err := d.run(ctx, args)
	stdout := strings.TrimSpace(string(out))
	if err != nil {
		if stdout != "" {
			d.logger.Warn("adb exited nonzero but produced output",
				zap.Strings("args", args), zap.String("stderr", errText))
			return stdout, nil
		}
		if errText == "" {
			errText = err.Error()
		}
		return "", fmt.Errorf("adb %s: %s", strings.Join(args, " "), errText)
	}
	if stdout == "" {
		return "ok", nil
	}
	return stdout, nil
}

// RunCommandBytes runs an adb command and returns raw stdout, for binary
// captures such as screencap output.
func (d *Driver) RunCommandBytes(ctx context.Context, args ...string) ([]byte, error) {
	out, errText, err := d.run(ctx, args)
	if err != nil {
		if errText == "" {
			errText = err.Error()
		}
		return nil, fmt.Errorf("adb %s: %s", strings.Join(args, " "), errText)
	}
	return out, nil
}

func (d *Driver) run(ctx context.Context, args []string) (stdout []byte, stderr string, err error) {
	full := args
	if d.serial != "" {
		full = append([]string{"-s", d.serial}, args...)
	}
	cmd := exec.CommandContext(ctx, d.binary, full...)
	var errBuf strings.Builder
	cmd.Stderr = &errBuf

	out, err := cmd.Output()
	return out, strings.TrimSpace(errBuf.String()), err
}
