package camera

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDevicePlaceholder(t *testing.T) {
	dev, err := NewDevice(Config{Driver: DriverPlaceholder, Width: 32, Height: 24, FPS: 100})
	require.NoError(t, err)
	require.NoError(t, dev.Open(context.Background()))
	defer dev.Close()

	raw, err := dev.ReadFrame(context.Background())
	require.NoError(t, err)
	assert.Equal(t, FormatRGBA, raw.Format)
	assert.Equal(t, 32, raw.Width)
	assert.Equal(t, 24, raw.Height)
	assert.Len(t, raw.Data, 32*24*4)
}

func TestNewDeviceUnknownDriver(t *testing.T) {
	_, err := NewDevice(Config{Driver: "betamax"})
	assert.Error(t, err)
}

func TestPlaceholderHonoursContext(t *testing.T) {
	dev := NewPlaceholderDevice(16, 16, 1)
	require.NoError(t, dev.Open(context.Background()))
	_, err := dev.ReadFrame(context.Background()) // first slot is immediate
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = dev.ReadFrame(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
