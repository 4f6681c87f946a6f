// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package probes

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"grimm.is/netwarden/internal/staticscan"
)

// SSLCert inspects the TLS certificate on port 443. Expired certificates
// score medium, self-signed ones low.
func SSLCert(ctx context.Context, target string) (*staticscan.Result, error) {
	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: connectTimeout},
		Config:    &tls.Config{InsecureSkipVerify: true},
	}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(target, "443"))
	if err != nil {
		return &staticscan.Result{
			Details:  map[string]interface{}{"tls": false},
			Severity: staticscan.SeverityInfo,
		}, nil
	}
	defer conn.Close()

	state := conn.(*tls.Conn).ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return &staticscan.Result{
			Details:  map[string]interface{}{"tls": true, "certificates": 0},
			Severity: staticscan.SeverityLow,
		}, nil
	}

	cert := state.PeerCertificates[0]
	now := time.Now()
	expired := now.After(cert.NotAfter)
	selfSigned := cert.Issuer.String() == cert.Subject.String()

	severity := staticscan.SeverityInfo
	switch {
	case expired:
		severity = staticscan.SeverityMedium
	case selfSigned:
		severity = staticscan.SeverityLow
	}

	return &staticscan.Result{
		Details: map[string]interface{}{
			"tls":         true,
			"subject":     cert.Subject.String(),
			"issuer":      cert.Issuer.String(),
			"not_after":   cert.NotAfter.Format(time.RFC3339),
			"expired":     expired,
			"self_signed": selfSigned,
		},
		Severity: severity,
	}, nil
}
