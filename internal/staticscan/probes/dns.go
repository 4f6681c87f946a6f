// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package probes

import (
	"context"
	"net"
	"time"

	"github.com/miekg/dns"

	"grimm.is/netwarden/internal/staticscan"
)

const dnsProbeDomain = "example.com."

// DNS checks whether the target answers recursive queries on port 53.
// An open resolver on a LAN host is an amplification liability.
func DNS(ctx context.Context, target string) (*staticscan.Result, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dnsProbeDomain, dns.TypeA)
	msg.RecursionDesired = true

	client := &dns.Client{Timeout: 3 * time.Second}
	resp, _, err := client.ExchangeContext(ctx, msg, net.JoinHostPort(target, "53"))
	if err != nil {
		// No DNS service at all is the common, healthy case.
		return &staticscan.Result{
			Details:  map[string]interface{}{"dns_service": false},
			Severity: staticscan.SeverityInfo,
		}, nil
	}

	openResolver := resp.RecursionAvailable && resp.Rcode == dns.RcodeSuccess && len(resp.Answer) > 0
	severity := staticscan.SeverityInfo
	if openResolver {
		severity = staticscan.SeverityMedium
	}
	return &staticscan.Result{
		Details: map[string]interface{}{
			"dns_service":   true,
			"open_resolver": openResolver,
			"rcode":         dns.RcodeToString[resp.Rcode],
		},
		Severity: severity,
	}, nil
}
