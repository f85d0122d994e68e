package normalize

import (
	"strings"

	"github.com/miekg/dns"
	"golang.org/x/net/publicsuffix"
)

// RegistrableFunc reduces a valid lower-cased host to its registrable domain.
type RegistrableFunc func(host string) string

var multiLabelTLDs = map[string]bool{
	"co.uk":  true,
	"com.au": true,
	"co.jp":  true,
	"com.br": true,
	"com.cn": true,
	"co.in":  true,
	"co.za":  true,
}

// Heuristic keeps the last three labels when the last two form a known
// multi-label TLD and the last two labels otherwise.
func Heuristic(host string) string {
	labels := dns.SplitDomainName(host)
	if len(labels) < 3 {
		return host
	}
	lastTwo := strings.Join(labels[len(labels)-2:], ".")
	if multiLabelTLDs[lastTwo] {
		return strings.Join(labels[len(labels)-3:], ".")
	}
	return lastTwo
}

// PublicSuffix uses the public suffix list compiled into x/net and falls
// back to Heuristic for hosts the list cannot reduce (a bare suffix, for example).
func PublicSuffix(host string) string {
	etld1, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil || etld1 == "" {
		return Heuristic(host)
	}
	return strings.ToLower(etld1)
}
