package syslog

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/tmq-project/tmq-ios/pkg/lockdown"
)

// ServiceName is the lockdown service that streams the unified log.
const ServiceName = "com.apple.syslog_relay"

// Syslog opens the syslog relay and streams parsed entries on the
// returned channel until ctx is cancelled or the device closes the
// connection, whichever comes first. The returned Closer stops the
// stream early; calling it is optional once ctx is cancelled.
func Syslog(ctx context.Context, session *lockdown.Session) (<-chan SyslogEntry, io.Closer, error) {
	conn, _, err := session.OpenService(ctx, ServiceName)
	if err != nil {
		return nil, nil, fmt.Errorf("syslog: open service: %w", err)
	}
	return streamEntries(ctx, conn), conn, nil
}

// streamEntries scans CRLF-terminated lines off conn and parses each into
// a SyslogEntry, closing the returned channel once ctx is cancelled or
// conn reaches EOF.
func streamEntries(ctx context.Context, conn net.Conn) <-chan SyslogEntry {
	out := make(chan SyslogEntry)
	done := make(chan struct{})

	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	go func() {
		defer close(out)
		defer close(done)
		scanner := bufio.NewScanner(conn)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimRight(scanner.Text(), "\r")
			if line == "" {
				continue
			}
			select {
			case out <- parseEntry(line):
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}
