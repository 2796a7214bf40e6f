package crossforge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"crossforge/internal/shell"
)

const (
	DefaultDeviceSerial       = "emulator-5566"
	DefaultDeviceTimeout      = 20 * time.Second
	DefaultDevicePollInterval = 500 * time.Millisecond
)

// ErrDeviceNotAttached is wrapped by the timeout error of WaitForDevice.
var ErrDeviceNotAttached = errors.New("device not attached")

// ADBPath is the adb executable of the SDK rooted at sdkRoot.
func ADBPath(sdkRoot string) string {
	return filepath.Join(sdkRoot, "platform-tools", "adb")
}

// ParseADBDevices returns the serials `adb devices` lists in the "device"
// state. Offline and unauthorized entries are left out.
func ParseADBDevices(out string) []string {
	var serials []string
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Split(strings.TrimRight(line, "\r"), "\t")
		if len(fields) != 2 || fields[1] != "device" {
			continue
		}
		serials = append(serials, fields[0])
	}
	return serials
}

// WaitForDevice polls `adb devices` until serial is attached, every interval
// and for at most timeout.
func WaitForDevice(ctx context.Context, adb, serial string, interval, timeout time.Duration, logger *slog.Logger) error {
	list := func() ([]string, error) {
		cmd := shell.New(adb, "devices")
		cmd.Logger = logger
		cmd.SkipBlankLines = true
		out, err := cmd.Run()
		if err != nil {
			return nil, err
		}
		return ParseADBDevices(out), nil
	}
	return pollDevice(ctx, list, serial, interval, timeout)
}

func pollDevice(ctx context.Context, list func() ([]string, error), serial string, interval, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	check := func() error {
		serials, err := list()
		if err != nil {
			return err
		}
		if !slices.Contains(serials, serial) {
			return ErrDeviceNotAttached
		}
		return nil
	}

	b := backoff.WithContext(backoff.NewConstantBackOff(interval), ctx)
	err := backoff.Retry(check, b)
	if err == nil {
		return nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("device %q not attached after %s: %w", serial, timeout, ErrDeviceNotAttached)
	}
	return err
}
