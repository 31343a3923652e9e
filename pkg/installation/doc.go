// Package installation implements the installation_proxy service: install
// and uninstall progress streams, and bundle-id-keyed lookup/browse of
// apps already on the device. It speaks the same framed property-list
// shape lockdown does, over a mux-pipe opened with
// Session.OpenService("com.apple.mobile.installation_proxy").
package installation
