// Package ioslog provides structured protocol logging for the iOS device
// client.
//
// This package defines the Logger interface and Event types for capturing
// protocol-level events at multiple layers (mux, lockdown, DTX, AFC). It is
// separate from operational logging (slog) - protocol capture provides a
// complete machine-readable event trace for debugging and analysis.
//
// # Basic Usage
//
// Callers configure logging by providing a Logger implementation:
//
//	// For development: log to console via slog
//	logger := ioslog.NewSlogAdapter(slog.Default())
//
//	// For production: write to a binary file
//	logger, _ := ioslog.NewFileLogger("/var/log/ios-client/device.mlog")
//
//	// Both: use MultiLogger
//	logger := ioslog.NewMultiLogger(
//	    ioslog.NewSlogAdapter(slog.Default()),
//	    fileLogger,
//	)
//
// # Event Types
//
// Events are captured at multiple layers:
//   - Mux/AFC framing: raw frame bytes (FrameEvent)
//   - Lockdown/DTX: decoded messages (MessageEvent)
//   - Session/connection: state changes (StateChangeEvent)
//
// Errors at any layer have a dedicated event type.
//
// # File Format
//
// Log files use CBOR encoding with a .mlog extension, read back with Reader.
package ioslog
