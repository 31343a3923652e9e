package ioslog

import (
	"bytes"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEvent() Event {
	return Event{
		Timestamp:    time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		ConnectionID: "conn-1",
		Direction:    DirectionOut,
		Layer:        LayerDtx,
		Category:     CategoryMessage,
		UDID:         "539c2c1b8a5a4f6b9d9c1e2f3a4b5c6d7e8f90a1",
		ServiceName:  "com.apple.instruments.remoteserver",
		Message: &MessageEvent{
			Type:        MessageTypeRequest,
			MessageID:   7,
			ChannelCode: 3,
			Selector:    "launchSuspendedProcessWithDevicePath:bundleIdentifier:environment:arguments:options:",
		},
	}
}

func TestNoopLogger(t *testing.T) {
	var l Logger = NoopLogger{}
	l.Log(sampleEvent()) // must not panic
}

func TestMultiLogger(t *testing.T) {
	var got1, got2 []Event
	rec1 := recorderLogger{events: &got1}
	rec2 := recorderLogger{events: &got2}

	ml := NewMultiLogger(rec1, rec2)
	ml.Log(sampleEvent())

	assert.Len(t, got1, 1)
	assert.Len(t, got2, 1)
}

type recorderLogger struct {
	events *[]Event
}

func (r recorderLogger) Log(e Event) {
	*r.events = append(*r.events, e)
}

func TestCBORRoundTrip(t *testing.T) {
	ev := sampleEvent()

	data, err := EncodeEvent(ev)
	require.NoError(t, err)

	decoded, err := DecodeEvent(data)
	require.NoError(t, err)

	assert.Equal(t, ev.ConnectionID, decoded.ConnectionID)
	assert.Equal(t, ev.Direction, decoded.Direction)
	assert.Equal(t, ev.Layer, decoded.Layer)
	assert.Equal(t, ev.UDID, decoded.UDID)
	require.NotNil(t, decoded.Message)
	assert.Equal(t, ev.Message.Selector, decoded.Message.Selector)
}

func TestFileLoggerAndReader(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.mlog")

	fl, err := NewFileLogger(path)
	require.NoError(t, err)

	fl.Log(sampleEvent())
	second := sampleEvent()
	second.ConnectionID = "conn-2"
	fl.Log(second)

	require.NoError(t, fl.Close())

	// Closed logger silently drops further events.
	fl.Log(sampleEvent())
	require.NoError(t, fl.Close())

	r, err := NewReader(path)
	require.NoError(t, err)
	defer r.Close()

	first, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "conn-1", first.ConnectionID)

	next, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "conn-2", next.ConnectionID)

	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestFilteredReader(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "filtered.mlog")

	fl, err := NewFileLogger(path)
	require.NoError(t, err)
	fl.Log(sampleEvent())
	errEvent := sampleEvent()
	errEvent.Category = CategoryError
	errEvent.Error = &ErrorEventData{Layer: LayerAfc, Message: "boom"}
	fl.Log(errEvent)
	require.NoError(t, fl.Close())

	wantCat := CategoryError
	r, err := NewFilteredReader(path, Filter{Category: &wantCat})
	require.NoError(t, err)
	defer r.Close()

	ev, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, CategoryError, ev.Category)

	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestSlogAdapter(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	adapter := NewSlogAdapter(slog.New(handler))

	adapter.Log(sampleEvent())

	out := buf.String()
	assert.Contains(t, out, "conn_id=conn-1")
	assert.Contains(t, out, "layer=DTX")
}

func TestDirectionAndLayerStrings(t *testing.T) {
	assert.Equal(t, "IN", DirectionIn.String())
	assert.Equal(t, "OUT", DirectionOut.String())
	assert.Equal(t, "MUX", LayerMux.String())
	assert.Equal(t, "LOCKDOWN", LayerLockdown.String())
	assert.Equal(t, "DTX", LayerDtx.String())
	assert.Equal(t, "AFC", LayerAfc.String())
	assert.Equal(t, "UNKNOWN", Layer(99).String())
}
