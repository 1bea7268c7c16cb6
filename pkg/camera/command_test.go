package camera_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wachiwi/picam/pkg/camera"
	"github.com/wachiwi/picam/pkg/camera/cameratest"
)

// shellDevice runs script with sh. exec keeps the last command in the shell's
// process so Close reaches it.
func shellDevice(t *testing.T, script string, args ...string) *camera.CommandDevice {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	return camera.NewCommandDevice("sh", append([]string{"-c", script, "sh"}, args...), 4, 4)
}

func TestCommandDeviceReadsFrames(t *testing.T) {
	first, second := cameratest.JPEG(4, 4), cameratest.JPEG(8, 8)
	fixture := filepath.Join(t.TempDir(), "stream.mjpeg")
	// Garbage before the first image is skipped.
	data := append([]byte("noise"), first...)
	data = append(data, second...)
	require.NoError(t, os.WriteFile(fixture, data, 0644))

	dev := shellDevice(t, `cat "$1"; exec sleep 30`, fixture)
	require.NoError(t, dev.Open(context.Background()))
	defer dev.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Only the newest image is kept, so the first read returns either one.
	f, err := dev.ReadFrame(ctx)
	require.NoError(t, err)
	assert.Equal(t, camera.FormatJPEG, f.Format)
	assert.True(t, bytes.Equal(f.Data, first) || bytes.Equal(f.Data, second))
	assert.False(t, f.CapturedAt.IsZero())

	done := make(chan error, 1)
	go func() { done <- dev.Close() }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not stop the process")
	}

	_, err = dev.ReadFrame(ctx)
	assert.Error(t, err)
}

func TestCommandDeviceProcessExit(t *testing.T) {
	dev := shellDevice(t, `echo broken >&2; exit 3`)
	require.NoError(t, dev.Open(context.Background()))
	defer dev.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := dev.ReadFrame(ctx)
	require.Error(t, err)
	var exitErr *exec.ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 3, exitErr.ExitCode())
	assert.NoError(t, dev.Close())
}

func TestCommandDeviceReadHonoursContext(t *testing.T) {
	dev := shellDevice(t, `exec sleep 30`)
	require.NoError(t, dev.Open(context.Background()))
	defer dev.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := dev.ReadFrame(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCommandDeviceNotOpen(t *testing.T) {
	dev := camera.NewCommandDevice("does-not-matter", nil, 4, 4)
	_, err := dev.ReadFrame(context.Background())
	assert.Error(t, err)
	assert.NoError(t, dev.Close())
}

func TestCommandDeviceMissingProgram(t *testing.T) {
	dev := camera.NewCommandDevice(filepath.Join(t.TempDir(), "no-such-camera"), nil, 4, 4)
	assert.Error(t, dev.Open(context.Background()))
}
