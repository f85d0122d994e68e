package rules

import "strings"

// Kind is the rule type column of a rule line.
type Kind int

const (
	KindDomain Kind = iota
	KindDomainSuffix
	KindDomainKeyword
	KindIPCIDR
)

// Kinds lists every rule kind in display order.
var Kinds = []Kind{KindDomainSuffix, KindDomain, KindDomainKeyword, KindIPCIDR}

// Token returns the on-disk token for the kind.
func (k Kind) Token() string {
	switch k {
	case KindDomain:
		return "DOMAIN"
	case KindDomainSuffix:
		return "DOMAIN-SUFFIX"
	case KindDomainKeyword:
		return "DOMAIN-KEYWORD"
	case KindIPCIDR:
		return "IP-CIDR"
	default:
		panic("rules: unknown kind")
	}
}

func (k Kind) String() string {
	return k.Token()
}

// ParseKind maps a wire token to a Kind. Matching is exact.
func ParseKind(token string) (Kind, bool) {
	switch token {
	case "DOMAIN":
		return KindDomain, true
	case "DOMAIN-SUFFIX":
		return KindDomainSuffix, true
	case "DOMAIN-KEYWORD":
		return KindDomainKeyword, true
	case "IP-CIDR":
		return KindIPCIDR, true
	default:
		return 0, false
	}
}

// ParseKindFold is ParseKind for user input: case and surrounding space are ignored.
func ParseKindFold(token string) (Kind, bool) {
	return ParseKind(strings.ToUpper(strings.TrimSpace(token)))
}

// Policy is the legacy third column. It is read but never written.
type Policy int

const (
	PolicyNone Policy = iota
	PolicyProxy
	PolicyDirect
	PolicyReject
)

func (p Policy) String() string {
	switch p {
	case PolicyNone:
		return ""
	case PolicyProxy:
		return "PROXY"
	case PolicyDirect:
		return "DIRECT"
	case PolicyReject:
		return "REJECT"
	default:
		panic("rules: unknown policy")
	}
}

// ParsePolicy returns PolicyNone for anything it does not know.
func ParsePolicy(token string) Policy {
	switch token {
	case "PROXY":
		return PolicyProxy
	case "DIRECT":
		return PolicyDirect
	case "REJECT":
		return PolicyReject
	default:
		return PolicyNone
	}
}

// Rule is a single routing directive. Value is always in normalized form.
type Rule struct {
	Kind   Kind
	Value  string
	Policy Policy
}

// SameAs reports whether two rules are duplicates. Policy is ignored.
func (r Rule) SameAs(other Rule) bool {
	return r.Kind == other.Kind && r.Value == other.Value
}

// HasPolicy reports whether the rule carries a legacy policy column.
func (r Rule) HasPolicy() bool {
	return r.Policy != PolicyNone
}

// Line returns the canonical two-column form used in files, commit messages and listings.
func (r Rule) Line() string {
	return r.Kind.Token() + "," + r.Value
}

type LineKind int

const (
	LineComment LineKind = iota
	LineRule
	LineUnrecognized
)

// Line is one physical line of a rule file. Rule is set only for LineRule.
type Line struct {
	Kind LineKind
	Text string
	Rule *Rule
}

// IsRule reports whether the line holds an active rule.
func (l Line) IsRule() bool {
	return l.Kind == LineRule && l.Rule != nil
}

// Document is the ordered sequence of lines of one rule file.
// Operations never modify a Document in place; they return a new one.
type Document []Line

// Indexed pairs a rule with its line position in the document.
type Indexed struct {
	Index int
	Rule  Rule
}
