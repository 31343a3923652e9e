// Package syslog streams the device's unified log over the
// com.apple.syslog_relay service and harvests crash reports over the
// com.apple.crashreportcopymobile AFC service.
package syslog
