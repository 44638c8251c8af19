package main

// address.go decides which IP goes into the URLs handed to the user. One
// pass over the host's addresses sorts them into buckets (LAN, tailnet,
// other); the networking mode then picks the bucket.

import (
	"net"

	"github.com/shrijayan/itwillsync/internal/config"
)

// addrBuckets is the classification of a host's IPv4 addresses. Empty
// fields mean no address of that kind was found.
type addrBuckets struct {
	lan      string // RFC 1918 private address
	tailnet  string // Tailscale CGNAT address (100.64.0.0/10)
	fallback string // any other global unicast address
}

// accessIP picks the address remote clients should use for this machine:
// the tailnet address in tailscale mode, otherwise the LAN address, falling
// back to whatever global address exists, then loopback.
func accessIP(mode config.NetworkingMode) string {
	buckets := classifyHostAddrs()

	candidates := []string{buckets.lan, buckets.fallback}
	if mode == config.ModeTailscale {
		candidates = []string{buckets.tailnet, buckets.lan, buckets.fallback}
	}
	for _, ip := range candidates {
		if ip != "" {
			return ip
		}
	}
	return "127.0.0.1"
}

// classifyHostAddrs walks every address assigned to the host once and
// keeps the first address seen in each bucket.
func classifyHostAddrs() addrBuckets {
	addrList, err := net.InterfaceAddrs()
	if err != nil {
		return addrBuckets{}
	}

	var buckets addrBuckets
	for _, addr := range addrList {
		ipNet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		buckets.add(ipNet.IP)
	}
	return buckets
}

// add files one IP into the matching bucket, keeping the first hit per
// bucket. Loopback, link-local, and IPv6 addresses are not usable in the
// URLs we print, so they are skipped outright.
func (b *addrBuckets) add(ip net.IP) {
	ip4 := ip.To4()
	if ip4 == nil || ip4.IsLoopback() || ip4.IsLinkLocalUnicast() {
		return
	}

	switch {
	case isTailnetAddr(ip4):
		if b.tailnet == "" {
			b.tailnet = ip4.String()
		}
	case ip4.IsPrivate():
		if b.lan == "" {
			b.lan = ip4.String()
		}
	default:
		if b.fallback == "" {
			b.fallback = ip4.String()
		}
	}
}

// isTailnetAddr reports whether a 4-byte IP falls in the CGNAT range
// Tailscale assigns from, 100.64.0.0/10: first octet 100, top two bits of
// the second octet equal to 01.
func isTailnetAddr(ip4 net.IP) bool {
	return ip4[0] == 100 && ip4[1]&0xc0 == 0x40
}
