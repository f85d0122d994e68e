package rules

import (
	"net/netip"
	"strings"
)

// Filter returns the rules matching any of the search tokens, in input order.
// A token matches when it is a substring of the rule value. For IP-CIDR rules
// a token that parses as an IPv4 address also matches when the network contains it.
func Filter(items []Indexed, tokens []string) []Indexed {
	var clean []string
	var addrs []netip.Addr
	for _, tok := range tokens {
		tok = strings.ToLower(strings.TrimSpace(tok))
		if tok == "" {
			continue
		}
		clean = append(clean, tok)
		if addr, err := netip.ParseAddr(tok); err == nil && addr.Is4() {
			addrs = append(addrs, addr)
		}
	}
	if len(clean) == 0 {
		return nil
	}

	var out []Indexed
	for _, it := range items {
		if matches(it.Rule, clean, addrs) {
			out = append(out, it)
		}
	}
	return out
}

func matches(rule Rule, tokens []string, addrs []netip.Addr) bool {
	value := strings.ToLower(rule.Value)
	for _, tok := range tokens {
		if strings.Contains(value, tok) {
			return true
		}
	}
	if rule.Kind != KindIPCIDR || len(addrs) == 0 {
		return false
	}
	prefix, err := netip.ParsePrefix(rule.Value)
	if err != nil {
		return false
	}
	for _, addr := range addrs {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}
