// Package usbmux implements the client half of the mux-daemon protocol:
// enumerating and watching attached devices, reading and writing pair
// records, and opening a raw byte pipe to a device-side TCP port. Every
// non-streaming operation opens a fresh connection, sends one request, and
// reads one reply; Listen keeps its connection open and yields device
// events until the caller closes it.
package usbmux
