package crossforge

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseADBDevices(t *testing.T) {
	t.Parallel()

	out := "List of devices attached\n" +
		"emulator-5566\tdevice\n" +
		"emulator-5554\toffline\n" +
		"R58M123ABC\tunauthorized\n" +
		"0123456789ABCDEF\tdevice\r\n" +
		"\n"
	require.Equal(t, []string{"emulator-5566", "0123456789ABCDEF"}, ParseADBDevices(out))
	require.Empty(t, ParseADBDevices("List of devices attached\n\n"))
}

func TestPollDevice(t *testing.T) {
	t.Parallel()

	t.Run("attached after a few polls", func(t *testing.T) {
		t.Parallel()
		var calls atomic.Int32
		list := func() ([]string, error) {
			if calls.Add(1) < 3 {
				return nil, nil
			}
			return []string{"emulator-5566"}, nil
		}
		require.NoError(t, pollDevice(context.Background(), list, "emulator-5566", time.Millisecond, time.Second))
		require.Equal(t, int32(3), calls.Load())
	})

	t.Run("timeout", func(t *testing.T) {
		t.Parallel()
		list := func() ([]string, error) { return []string{"other"}, nil }
		err := pollDevice(context.Background(), list, "emulator-5566", 5*time.Millisecond, 50*time.Millisecond)
		require.ErrorIs(t, err, ErrDeviceNotAttached)
		require.ErrorContains(t, err, `device "emulator-5566" not attached after 50ms`)
	})

	t.Run("cancelled", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		list := func() ([]string, error) { return nil, errors.New("adb: no server") }
		err := pollDevice(ctx, list, "emulator-5566", time.Millisecond, time.Second)
		require.Error(t, err)
		require.NotContains(t, err.Error(), "not attached after")
	})
}

func TestWaitForDeviceRunsADB(t *testing.T) {
	t.Parallel()

	sdk := t.TempDir()
	adb := ADBPath(sdk)
	require.Equal(t, filepath.Join(sdk, "platform-tools", "adb"), adb)
	require.NoError(t, os.MkdirAll(filepath.Dir(adb), 0o755))
	writeScript(t, filepath.Dir(adb), "adb", "printf 'List of devices attached\\nemulator-5566\\tdevice\\n\\n'\n")

	require.NoError(t, WaitForDevice(context.Background(), adb, DefaultDeviceSerial, time.Millisecond, 5*time.Second, discardLogger()))
	err := WaitForDevice(context.Background(), adb, "emulator-9999", 5*time.Millisecond, 50*time.Millisecond, discardLogger())
	require.ErrorIs(t, err, ErrDeviceNotAttached)
}
