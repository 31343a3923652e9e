// Package muxsocket implements the framed socket shared by every client in
// this module: the property-list handshake spoken to the local mux daemon,
// the length-prefixed shape used by every connection afterwards, and the
// in-place TLS upgrade (full or dial-only) used by lockdown-started
// services.
//
// # Wire Shapes
//
// Exactly one socket carries two different frame shapes over its lifetime:
//
//	┌──────────────────────────────────┐
//	│  Initial frame (mux handshake)    │  16-byte LE header + plist body
//	├──────────────────────────────────┤
//	│  Continuation frames              │  4-byte BE length + plist body
//	└──────────────────────────────────┘
//
// Only the very first request/reply pair exchanged with the mux daemon
// uses the initial shape; everything else - including every byte sent
// after Mux.Connect turns the socket into a raw device pipe - uses the
// continuation shape.
//
// # TLS Upgrade
//
// Lockdown-started services optionally upgrade the mux-pipe to TLS using
// the pair record's host certificate as both the client credential and the
// trust anchor. Two modes exist: full (all further traffic is encrypted)
// and dial-only (handshake then revert to the raw underlying socket,
// because the device only uses the handshake as an authorization gate for
// the DTX-bearing services).
package muxsocket
