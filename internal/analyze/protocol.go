// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package analyze

import "strings"

// Protocol labels considered dangerous regardless of port.
var dangerousProtocols = map[string]bool{
	"telnet": true,
	"ftp":    true,
	"rdp":    true,
}

// Ports of services that should never appear on a monitored LAN segment:
// FTP(21), Telnet(23/2323), SMB(445), RDP(3389), VNC(5900/5901),
// WinRM(5985/5986).
var dangerousPorts = map[int]bool{
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

// IsDangerousProtocol reports whether the protocol label or either port
// matches the dangerous sets. The label comparison is case-insensitive;
// an absent label falls through to the port check.
func IsDangerousProtocol(protocol string, srcPort, dstPort int) bool {
	if dangerousProtocols[strings.ToLower(protocol)] {
		return true
	}
	return dangerousPorts[srcPort] || dangerousPorts[dstPort]
}

// OutOfHours reports whether the local-time hour of t falls outside the
// half-open business-hours window [start, end). Exactly start is in-hours,
// exactly end is out-of-hours.
func OutOfHours(hour, start, end int) bool {
	return hour < start || hour >= end
}
