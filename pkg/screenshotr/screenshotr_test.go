package screenshotr

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tmq-project/tmq-ios/pkg/muxsocket"
	"howett.net/plist"
)

func fakeScreenshotrPeer(t *testing.T, logic func(t *testing.T, framer *muxsocket.Framer)) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		logic(t, muxsocket.NewFramer(conn))
	}()
	return ln.Addr().String()
}

func writeArray(t *testing.T, framer *muxsocket.Framer, v []any) {
	t.Helper()
	body, err := plist.Marshal(v, plist.BinaryFormat)
	require.NoError(t, err)
	require.NoError(t, framer.WriteFrame(body))
}

func readArray(t *testing.T, framer *muxsocket.Framer) []any {
	t.Helper()
	body, err := framer.ReadFrame()
	require.NoError(t, err)
	var v []any
	_, err = plist.Unmarshal(body, &v)
	require.NoError(t, err)
	return v
}

func TestNewPerformsVersionHandshake(t *testing.T) {
	addr := fakeScreenshotrPeer(t, func(t *testing.T, framer *muxsocket.Framer) {
		writeArray(t, framer, []any{uint64(1), uint64(0)})
		got := readArray(t, framer)
		require.Equal(t, []any{uint64(1), uint64(0)}, got)
		writeArray(t, framer, []any{"DLMessageDeviceReady"})
	})

	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	require.NoError(t, err)
	defer conn.Close()

	c, err := New(conn)
	require.NoError(t, err)
	defer c.Close()
}

func TestTakeReturnsImageData(t *testing.T) {
	pngBytes := []byte("\x89PNG-fake-data")

	addr := fakeScreenshotrPeer(t, func(t *testing.T, framer *muxsocket.Framer) {
		writeArray(t, framer, []any{uint64(1), uint64(0)})
		readArray(t, framer)
		writeArray(t, framer, []any{"DLMessageDeviceReady"})

		req := readArray(t, framer)
		require.Equal(t, "DLMessageProcessMessage", req[0])
		body, ok := req[1].(map[string]any)
		require.True(t, ok)
		require.Equal(t, "ScreenShotRequest", body["MessageType"])

		writeArray(t, framer, []any{"DLMessageProcessMessage", map[string]any{
			"ScreenShotData": pngBytes,
		}})
	})

	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	require.NoError(t, err)
	defer conn.Close()

	c, err := New(conn)
	require.NoError(t, err)
	defer c.Close()

	data, err := c.Take()
	require.NoError(t, err)
	require.Equal(t, pngBytes, data)
}

func TestTakeSurfacesDeviceError(t *testing.T) {
	addr := fakeScreenshotrPeer(t, func(t *testing.T, framer *muxsocket.Framer) {
		writeArray(t, framer, []any{uint64(1), uint64(0)})
		readArray(t, framer)
		writeArray(t, framer, []any{"DLMessageDeviceReady"})

		readArray(t, framer)
		writeArray(t, framer, []any{"DLMessageProcessMessage", map[string]any{
			"ScreenShotError": "failed to take screenshot",
		}})
	})

	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	require.NoError(t, err)
	defer conn.Close()

	c, err := New(conn)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Take()
	require.Error(t, err)
}
