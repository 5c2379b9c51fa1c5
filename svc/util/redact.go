package util

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/url"
)

// RedactIP truncates the host portion of an address before logging. IPv4
// loses the last octet, IPv6 everything past the /32.
func RedactIP(ip string) string {
	host, _, err := net.SplitHostPort(ip)
	if err == nil {
		ip = host
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		hash := sha256.Sum256([]byte(ip))
		return "hash:" + hex.EncodeToString(hash[:8])
	}
	if ipv4 := parsed.To4(); ipv4 != nil {
		ipv4[3] = 0
		return ipv4.String()
	}
	if ipv6 := parsed.To16(); ipv6 != nil {
		for i := 4; i < 16; i++ {
			ipv6[i] = 0
		}
		return ipv6.String()
	}
	hash := sha256.Sum256([]byte(ip))
	return "hash:" + hex.EncodeToString(hash[:8])
}

// RedactURL strips query parameters from a URL before logging. Signed
// candidate URLs carry credentials in the query string.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "[unparseable-url]"
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}
