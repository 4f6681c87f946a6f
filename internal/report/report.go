// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package report derives the dynamic-scan risk summary from a window of
// findings.
package report

import (
	"sort"
	"strings"

	"grimm.is/netwarden/internal/analyze"
)

// Category is one issue group in a risk report.
type Category struct {
	Name     string   `json:"name"`
	Severity string   `json:"severity"`
	Issues   []string `json:"issues"`
}

// Report is the aggregated risk view over a set of findings.
type Report struct {
	RiskScore  int        `json:"risk_score"`
	Categories []Category `json:"categories,omitempty"`
}

// Build aggregates findings into a report. The risk score counts
// dangerous-protocol and traffic-anomaly findings; each non-empty
// category lists its sorted distinct issues.
func Build(findings []*analyze.Finding) *Report {
	protocols := make(map[string]bool)
	sources := make(map[string]bool)
	score := 0

	for _, f := range findings {
		if f.DangerousProtocol != nil && *f.DangerousProtocol {
			score++
			label := strings.ToLower(f.Protocol)
			if label == "" {
				label = "unknown"
			}
			protocols[label] = true
		}
		if f.TrafficAnomaly != nil && *f.TrafficAnomaly {
			score++
			sources[f.Source()] = true
		}
	}

	r := &Report{RiskScore: score}
	if len(protocols) > 0 {
		r.Categories = append(r.Categories, Category{
			Name:     "protocols",
			Severity: "high",
			Issues:   sortedKeys(protocols),
		})
	}
	if len(sources) > 0 {
		r.Categories = append(r.Categories, Category{
			Name:     "traffic",
			Severity: "medium",
			Issues:   sortedKeys(sources),
		})
	}
	return r
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
