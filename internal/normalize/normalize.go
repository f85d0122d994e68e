package normalize

import (
	"fmt"

	"github.com/rulekeeper/rulekeeper/internal/rules"
)

// Func validates raw user input and returns the canonical rule value.
type Func func(raw string) (string, error)

// Normalizer turns user input into rule values. The zero value uses the
// heuristic registrable-domain lookup.
type Normalizer struct {
	Registrable RegistrableFunc
}

// New returns a Normalizer. With publicSuffix set, suffix rules are reduced
// through the public suffix list instead of the built-in heuristic.
func New(publicSuffix bool) Normalizer {
	if publicSuffix {
		return Normalizer{Registrable: PublicSuffix}
	}
	return Normalizer{Registrable: Heuristic}
}

var std = Normalizer{Registrable: Heuristic}

func ExactDomain(raw string) (string, error)  { return std.ExactDomain(raw) }
func DomainSuffix(raw string) (string, error) { return std.DomainSuffix(raw) }
func Keyword(raw string) (string, error)      { return std.Keyword(raw) }
func IPv4(raw string) (string, error)         { return std.IPv4(raw) }

// For returns the normalizer responsible for kind.
func (n Normalizer) For(kind rules.Kind) Func {
	switch kind {
	case rules.KindDomain:
		return n.ExactDomain
	case rules.KindDomainSuffix:
		return n.DomainSuffix
	case rules.KindDomainKeyword:
		return n.Keyword
	case rules.KindIPCIDR:
		return n.IPv4
	default:
		panic(fmt.Sprintf("normalize: no normalizer for kind %d", int(kind)))
	}
}

// Rule normalizes raw as a value of kind and returns the resulting rule.
func (n Normalizer) Rule(kind rules.Kind, raw string) (rules.Rule, error) {
	value, err := n.For(kind)(raw)
	if err != nil {
		return rules.Rule{}, err
	}
	return rules.Rule{Kind: kind, Value: value}, nil
}

func (n Normalizer) registrable(host string) string {
	if n.Registrable == nil {
		return Heuristic(host)
	}
	return n.Registrable(host)
}
