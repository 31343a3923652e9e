// Package dtx implements the client half of Apple's DTX message bus: a
// fragmented, multiplexed binary RPC used by Instruments and testmanagerd.
// See frame.go for the wire framing, payload.go and argv.go for the
// invocation payload shape, and connection.go for channel allocation,
// reply correlation, and server-initiated dispatch.
package dtx
