package main

import (
	"errors"
	"net"
)

var errNoHostIP = errors.New("no non-loopback IPv4 address found")

// detectHostIP returns the address advertised in SIP headers when
// sip.public_address is not configured.
func detectHostIP() (string, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", err
	}
	return pickHostIP(addrs)
}

// pickHostIP prefers a private IPv4 address and falls back to the first
// global unicast one.
func pickHostIP(addrs []net.Addr) (string, error) {
	var fallback net.IP
	for _, addr := range addrs {
		ipnet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		ip4 := ipnet.IP.To4()
		if ip4 == nil || ip4.IsLoopback() || ip4.IsLinkLocalUnicast() || !ip4.IsGlobalUnicast() {
			continue
		}
		if ip4.IsPrivate() {
			return ip4.String(), nil
		}
		if fallback == nil {
			fallback = ip4
		}
	}
	if fallback == nil {
		return "", errNoHostIP
	}
	return fallback.String(), nil
}
