// Package afc implements the Apple File Conduit protocol: a tag-correlated
// framed binary service, layered directly on a lockdown service mux-pipe,
// used to browse and transfer files in an app's sandbox and to harvest
// crash reports. See types.go for the wire constants, client.go for
// framing and the status-prefix-tolerance handshake, and ops.go for the
// directory, metadata, and file-handle operations built on top.
package afc
