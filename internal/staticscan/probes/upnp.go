// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package probes

import (
	"context"
	"net"
	"strings"
	"time"

	"grimm.is/netwarden/internal/staticscan"
)

const ssdpSearch = "M-SEARCH * HTTP/1.1\r\n" +
	"HOST: 239.255.255.250:1900\r\n" +
	"MAN: \"ssdp:discover\"\r\n" +
	"MX: 1\r\n" +
	"ST: ssdp:all\r\n" +
	"\r\n"

// UPnP sends an SSDP M-SEARCH to the target and reports any service it
// advertises. Exposed UPnP control points are a common lateral-movement
// foothold, so a response scores low rather than info.
func UPnP(ctx context.Context, target string) (*staticscan.Result, error) {
	dialer := &net.Dialer{Timeout: connectTimeout}
	conn, err := dialer.DialContext(ctx, "udp", net.JoinHostPort(target, "1900"))
	if err != nil {
		return &staticscan.Result{
			Details:  map[string]interface{}{"upnp": false},
			Severity: staticscan.SeverityInfo,
		}, nil
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(ssdpSearch)); err != nil {
		return &staticscan.Result{
			Details:  map[string]interface{}{"upnp": false},
			Severity: staticscan.SeverityInfo,
		}, nil
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 2048)
	n, err := conn.Read(buf)
	if err != nil || n == 0 {
		return &staticscan.Result{
			Details:  map[string]interface{}{"upnp": false},
			Severity: staticscan.SeverityInfo,
		}, nil
	}

	response := string(buf[:n])
	details := map[string]interface{}{"upnp": true}
	for _, line := range strings.Split(response, "\r\n") {
		lower := strings.ToLower(line)
		if strings.HasPrefix(lower, "server:") {
			details["server"] = strings.TrimSpace(line[len("server:"):])
		}
		if strings.HasPrefix(lower, "location:") {
			details["location"] = strings.TrimSpace(line[len("location:"):])
		}
	}
	return &staticscan.Result{Details: details, Severity: staticscan.SeverityLow}, nil
}
