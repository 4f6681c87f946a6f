// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package capture

import (
	"context"
	"fmt"
	"time"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/pcap"

	"grimm.is/netwarden/internal/analyze"
	"grimm.is/netwarden/internal/logging"
	"grimm.is/netwarden/internal/metrics"
)

const (
	snapLen     = 65535
	pollTimeout = time.Second
)

// Source feeds observations into out until the context ends or the
// underlying packet stream closes, then returns. Implementations must
// not close out.
type Source interface {
	Run(ctx context.Context, out chan<- analyze.Observation) error
}

// LiveSource captures from a network interface via libpcap.
type LiveSource struct {
	Interface string
	Filter    string // optional BPF filter
	Metrics   *metrics.Metrics

	logger *logging.Logger
}

// NewLiveSource creates a live capture source for iface.
func NewLiveSource(iface string, m *metrics.Metrics) *LiveSource {
	return &LiveSource{
		Interface: iface,
		Metrics:   m,
		logger:    logging.WithComponent("capture"),
	}
}

// Run opens the interface and streams parsed observations into out.
func (s *LiveSource) Run(ctx context.Context, out chan<- analyze.Observation) error {
	handle, err := pcap.OpenLive(s.Interface, snapLen, true, pollTimeout)
	if err != nil {
		return fmt.Errorf("failed to open interface %s: %w", s.Interface, err)
	}
	defer handle.Close()

	if s.Filter != "" {
		if err := handle.SetBPFFilter(s.Filter); err != nil {
			return fmt.Errorf("failed to set capture filter %q: %w", s.Filter, err)
		}
	}

	s.logger.Info("capture started", "interface", s.Interface)
	packetSource := gopacket.NewPacketSource(handle, handle.LinkType())
	packets := packetSource.Packets()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case packet, ok := <-packets:
			if !ok {
				return nil
			}
			if s.Metrics != nil {
				s.Metrics.PacketsCaptured.Inc()
			}
			obs := Parse(packet)
			if s.Metrics != nil {
				s.Metrics.PacketsParsed.Inc()
			}
			select {
			case out <- obs:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}
