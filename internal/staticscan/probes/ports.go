// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package probes contains the built-in static-scan probes.
package probes

import (
	"context"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"grimm.is/netwarden/internal/staticscan"
)

// Ports checked by the port sweep: legacy remote-access and file-sharing
// services that should not be exposed on a LAN host.
var sweepPorts = []int{21, 22, 23, 80, 443, 445, 2323, 3389, 5900, 5901, 5985, 5986, 8080}

// Ports of services considered risky when open.
var riskyPorts = map[int]bool{
	21:   true,
	23:   true,
	445:  true,
	2323: true,
	3389: true,
	5900: true,
	5901: true,
	5985: true,
	5986: true,
}

const connectTimeout = 2 * time.Second

// Ports sweeps a fixed TCP port set on the target and reports what is
// open. Any risky open port raises the severity to high.
func Ports(ctx context.Context, target string) (*staticscan.Result, error) {
	var mu sync.Mutex
	var open []int

	var wg sync.WaitGroup
	dialer := &net.Dialer{Timeout: connectTimeout}
	for _, port := range sweepPorts {
		wg.Add(1)
		go func(port int) {
			defer wg.Done()
			conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(target, fmt.Sprintf("%d", port)))
			if err != nil {
				return
			}
			conn.Close()
			mu.Lock()
			open = append(open, port)
			mu.Unlock()
		}(port)
	}
	wg.Wait()
	sort.Ints(open)

	severity := staticscan.SeverityInfo
	risky := make([]int, 0)
	for _, port := range open {
		if riskyPorts[port] {
			risky = append(risky, port)
		}
	}
	if len(risky) > 0 {
		severity = staticscan.SeverityHigh
	}

	return &staticscan.Result{
		Details: map[string]interface{}{
			"open_ports":  open,
			"risky_ports": risky,
		},
		Severity: severity,
	}, nil
}
