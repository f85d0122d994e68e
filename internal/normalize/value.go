package normalize

import (
	"net/netip"
	"regexp"
	"strconv"
	"strings"

	"github.com/rulekeeper/rulekeeper/internal/rules"
)

var keywordPattern = regexp.MustCompile(`^[a-z0-9-]{2,50}$`)

// Keyword lower-cases raw and checks the keyword charset.
func (n Normalizer) Keyword(raw string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if !keywordPattern.MatchString(s) {
		return "", invalid(rules.KindDomainKeyword, raw, msgKeyword)
	}
	return s, nil
}

// IPv4 returns the network containing raw in network/prefix form. A bare
// address becomes a /32 and host bits are masked off.
func (n Normalizer) IPv4(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if !strings.Contains(s, "/") {
		s += "/32"
	}
	addrPart, bitsPart, _ := strings.Cut(s, "/")

	addr, err := netip.ParseAddr(addrPart)
	if err != nil {
		return "", invalid(rules.KindIPCIDR, raw, msgIPFormat)
	}
	if !addr.Is4() {
		return "", invalid(rules.KindIPCIDR, raw, msgIPv6)
	}
	bits, err := strconv.ParseUint(bitsPart, 10, 8)
	if err != nil {
		return "", invalid(rules.KindIPCIDR, raw, msgIPFormat)
	}
	if bits > 32 {
		return "", invalid(rules.KindIPCIDR, raw, msgMask)
	}
	return netip.PrefixFrom(addr, int(bits)).Masked().String(), nil
}
