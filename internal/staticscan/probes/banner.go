// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package probes

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"grimm.is/netwarden/internal/staticscan"
)

// Ports that usually greet unauthenticated clients with a banner.
var bannerPorts = []int{22, 21, 23, 25}

const bannerReadTimeout = 2 * time.Second

// OSBanner grabs the first service banner it can and guesses the
// operating system family from it.
func OSBanner(ctx context.Context, target string) (*staticscan.Result, error) {
	dialer := &net.Dialer{Timeout: connectTimeout}
	for _, port := range bannerPorts {
		conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(target, fmt.Sprintf("%d", port)))
		if err != nil {
			continue
		}

		conn.SetReadDeadline(time.Now().Add(bannerReadTimeout))
		line, err := bufio.NewReader(conn).ReadString('\n')
		conn.Close()
		if err != nil && line == "" {
			continue
		}

		banner := strings.TrimSpace(line)
		return &staticscan.Result{
			Details: map[string]interface{}{
				"port":     port,
				"banner":   banner,
				"os_guess": guessOS(banner),
			},
			Severity: staticscan.SeverityInfo,
		}, nil
	}

	return &staticscan.Result{
		Details:  map[string]interface{}{"banner": ""},
		Severity: staticscan.SeverityInfo,
	}, nil
}

func guessOS(banner string) string {
	b := strings.ToLower(banner)
	switch {
	case strings.Contains(b, "ubuntu"):
		return "linux/ubuntu"
	case strings.Contains(b, "debian"):
		return "linux/debian"
	case strings.Contains(b, "openssh"), strings.Contains(b, "linux"):
		return "linux"
	case strings.Contains(b, "windows"), strings.Contains(b, "microsoft"):
		return "windows"
	case strings.Contains(b, "mikrotik"):
		return "routeros"
	default:
		return "unknown"
	}
}
