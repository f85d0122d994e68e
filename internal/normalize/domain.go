package normalize

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/miekg/dns"

	"github.com/rulekeeper/rulekeeper/internal/rules"
)

const (
	minHostLen  = 3
	maxHostLen  = 253
	maxLabelLen = 63
)

var hostPattern = regexp.MustCompile(`^([a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?\.)+[a-z]{2,}$`)

// ExactDomain accepts a bare host or a URL and returns the lower-cased host.
func (n Normalizer) ExactDomain(raw string) (string, error) {
	return validHost(rules.KindDomain, raw)
}

// DomainSuffix is ExactDomain reduced to the registrable domain.
func (n Normalizer) DomainSuffix(raw string) (string, error) {
	host, err := validHost(rules.KindDomainSuffix, raw)
	if err != nil {
		return "", err
	}
	return n.registrable(host), nil
}

func validHost(kind rules.Kind, raw string) (string, error) {
	host := cleanHost(raw)
	if len(host) < minHostLen || len(host) > maxHostLen {
		return "", invalid(kind, raw, msgDomain)
	}
	labels := dns.SplitDomainName(host)
	for _, label := range labels {
		if len(label) > maxLabelLen {
			return "", invalid(kind, raw, msgLabel)
		}
	}
	if len(labels) < 2 || !hostPattern.MatchString(host) {
		return "", invalid(kind, raw, msgDomain)
	}
	return host, nil
}

// cleanHost drops scheme, userinfo, path, query and port, then trims dots.
func cleanHost(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.Contains(s, "://") {
		if u, err := url.Parse(s); err == nil && u.Host != "" {
			s = u.Host
		} else if _, rest, ok := strings.Cut(s, "://"); ok {
			s = rest
		}
	}
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	if i := strings.LastIndexByte(s, '@'); i >= 0 {
		s = s[i+1:]
	}
	if i := strings.IndexByte(s, ':'); i >= 0 {
		s = s[:i]
	}
	return strings.ToLower(strings.Trim(strings.TrimSpace(s), "."))
}

// SearchTokens expands a free-text query into the tokens used to look up
// existing rules: the query itself, the host it names and that host's
// registrable domain.
func (n Normalizer) SearchTokens(query string) []string {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}
	tokens := []string{q}
	if host, err := validHost(rules.KindDomain, q); err == nil {
		tokens = appendUnique(tokens, host)
		tokens = appendUnique(tokens, n.registrable(host))
	}
	return tokens
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}
