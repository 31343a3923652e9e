package syslog

import "regexp"

// SyslogEntry is one parsed line from the device's syslog relay.
type SyslogEntry struct {
	// Timestamp is the relay's own textual timestamp (e.g. "Jul 31
	// 16:23:01"), not reparsed into a time.Time since the relay omits
	// the year and the device's clock may not match the host's.
	Timestamp string
	Process   string
	PID       string
	Message   string

	// Raw is the complete line as received, CRLF stripped, for callers
	// that want to bypass parsing entirely.
	Raw string
}

// lineRE matches "<timestamp> <process>(<lib>)[<pid>] <<Level>>: <message>",
// the shape idevicesyslog/tidevice observe from com.apple.syslog_relay.
// Lines that don't match this shape (kernel messages, relay banners) are
// returned with only Raw and Message set.
var lineRE = regexp.MustCompile(`^(\w+\s+\d+\s+\d+:\d+:\d+)\s+(?:\S+\s+)?([^\[\(]+?)(?:\([^)]*\))?\[(\d+)\](?:\s*<[^>]*>)?:\s?(.*)$`)

func parseEntry(line string) SyslogEntry {
	e := SyslogEntry{Raw: line, Message: line}
	m := lineRE.FindStringSubmatch(line)
	if m == nil {
		return e
	}
	e.Timestamp = m[1]
	e.Process = m[2]
	e.PID = m[3]
	e.Message = m[4]
	return e
}
