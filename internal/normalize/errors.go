package normalize

import "github.com/rulekeeper/rulekeeper/internal/rules"

const (
	msgDomain   = "could not parse the domain: use latin letters, digits, '.' and '-', length 3-253, with at least one dot (example.com)"
	msgLabel    = "a domain label cannot be longer than 63 characters"
	msgKeyword  = "keyword: 2-50 characters, latin letters, digits or hyphen only, no spaces"
	msgIPv6     = "only IPv4 is supported"
	msgMask     = "the prefix length must be between 0 and 32"
	msgIPFormat = "invalid IP address or range (expected IPv4 or IPv4/CIDR)"
)

// ValidationError reports user input that cannot become a rule value.
// Message is safe to show to the user as is.
type ValidationError struct {
	Kind    rules.Kind
	Input   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func invalid(kind rules.Kind, input, message string) error {
	return &ValidationError{Kind: kind, Input: input, Message: message}
}
