package vam_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/suballoc/device/hostmem"
	"github.com/vkngwrapper/suballoc/vam"
	"golang.org/x/exp/slog"
)

const (
	testChunkSize       = 1024 * 1024
	testBufferChunkSize = 4096
)

func testOptions() vam.CreateOptions {
	return vam.CreateOptions{
		ChunkSize:       testChunkSize,
		BufferChunkSize: testBufferChunkSize,
	}
}

func newDeviceHeap(t *testing.T, deviceOptions hostmem.Options, options vam.CreateOptions) (*hostmem.Device, *vam.DeviceHeap, *bytes.Buffer) {
	logs := &bytes.Buffer{}
	logger := slog.New(slog.NewJSONHandler(logs))

	dev := hostmem.New(deviceOptions)
	heap, err := vam.NewDeviceHeap(logger, dev, options)
	require.NoError(t, err)

	return dev, heap, logs
}

func newBufferHeap(t *testing.T, deviceOptions hostmem.Options) (*hostmem.Device, *vam.DeviceHeap, *vam.BufferHeap, *bytes.Buffer) {
	dev, deviceHeap, logs := newDeviceHeap(t, deviceOptions, testOptions())

	bufferHeap, err := vam.NewBufferHeap(slog.New(slog.NewJSONHandler(logs)), deviceHeap, testOptions())
	require.NoError(t, err)

	return dev, deviceHeap, bufferHeap, logs
}

func destroyHeaps(t *testing.T, dev *hostmem.Device, deviceHeap *vam.DeviceHeap, bufferHeap *vam.BufferHeap) {
	require.NoError(t, bufferHeap.Destroy())
	require.NoError(t, deviceHeap.Destroy())
	require.Equal(t, 0, dev.LiveBufferCount())
	require.Equal(t, 0, dev.LiveMemoryCount())
}

func capturePanic(fn func()) (recovered any) {
	defer func() {
		recovered = recover()
	}()

	fn()
	return nil
}
