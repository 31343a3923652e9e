// Package lockdown implements the client half of the lockdown protocol
// spoken on device TCP port 62078: querying properties, pairing,
// negotiating an authenticated session with an optional TLS upgrade, and
// starting named services for higher-level clients to open.
package lockdown
