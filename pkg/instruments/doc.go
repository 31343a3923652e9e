// Package instruments wraps pkg/dtx in the named operations the
// Instruments remote server exposes: process launch/kill, running
// processes and system info, installed-app listing, and the FPS/CPU-mem/
// network/app-state/energy notification streams. Each operation allocates
// (and caches) the DTX channel its identifier names, then issues one
// selector call on it.
package instruments
