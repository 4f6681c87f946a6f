// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package capture acquires packets from a network interface and
// normalizes them into observations for the analyzer.
package capture

import (
	"strconv"
	"strings"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"

	"grimm.is/netwarden/internal/analyze"
)

// Parse normalizes one packet into an observation. Parsing never fails:
// fields a packet lacks stay at their zero values.
func Parse(packet gopacket.Packet) analyze.Observation {
	obs := analyze.Observation{
		Size:      len(packet.Data()),
		Timestamp: packet.Metadata().Timestamp,
	}

	if ethLayer := packet.Layer(layers.LayerTypeEthernet); ethLayer != nil {
		eth, _ := ethLayer.(*layers.Ethernet)
		obs.SrcMAC = strings.ToLower(eth.SrcMAC.String())
		obs.DstMAC = strings.ToLower(eth.DstMAC.String())
	}

	var ipProto string
	if ip4Layer := packet.Layer(layers.LayerTypeIPv4); ip4Layer != nil {
		ip4, _ := ip4Layer.(*layers.IPv4)
		obs.SrcIP = ip4.SrcIP.String()
		obs.DstIP = ip4.DstIP.String()
		ipProto = protocolLabel(ip4.Protocol)
	} else if ip6Layer := packet.Layer(layers.LayerTypeIPv6); ip6Layer != nil {
		ip6, _ := ip6Layer.(*layers.IPv6)
		obs.SrcIP = ip6.SrcIP.String()
		obs.DstIP = ip6.DstIP.String()
		ipProto = protocolLabel(ip6.NextHeader)
	}

	if tcpLayer := packet.Layer(layers.LayerTypeTCP); tcpLayer != nil {
		tcp, _ := tcpLayer.(*layers.TCP)
		obs.Protocol = "tcp"
		obs.SrcPort = int(tcp.SrcPort)
		obs.DstPort = int(tcp.DstPort)
	} else if udpLayer := packet.Layer(layers.LayerTypeUDP); udpLayer != nil {
		udp, _ := udpLayer.(*layers.UDP)
		obs.Protocol = "udp"
		obs.SrcPort = int(udp.SrcPort)
		obs.DstPort = int(udp.DstPort)
	} else {
		obs.Protocol = ipProto
	}

	return obs
}

// protocolLabel renders an IP protocol as its decimal number. TCP and
// UDP keep their names so observations stay queryable by protocol even
// when the transport layer itself failed to decode.
func protocolLabel(p layers.IPProtocol) string {
	switch p {
	case layers.IPProtocolTCP:
		return "tcp"
	case layers.IPProtocolUDP:
		return "udp"
	default:
		return strconv.Itoa(int(p))
	}
}
