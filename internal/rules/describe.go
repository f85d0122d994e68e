package rules

import (
	"sort"
	"strings"
)

type Lang string

const (
	LangEN Lang = "en"
	LangRU Lang = "ru"
)

var kindLabels = map[Lang]map[Kind]string{
	LangEN: {
		KindDomainSuffix:  "domain and subdomains",
		KindDomain:        "exact domain",
		KindDomainKeyword: "keyword",
		KindIPCIDR:        "IP range",
	},
	LangRU: {
		KindDomainSuffix:  "домен+поддомены",
		KindDomain:        "точный домен",
		KindDomainKeyword: "ключевое слово",
		KindIPCIDR:        "IP-диапазон",
	},
}

// Describe renders a rule for listings. Policy is never shown.
func Describe(rule Rule) string {
	return DescribeIn(LangEN, rule)
}

// DescribeIn is Describe with an explicit label language; unknown languages fall back to English.
func DescribeIn(lang Lang, rule Rule) string {
	labels, ok := kindLabels[lang]
	if !ok {
		labels = kindLabels[LangEN]
	}
	return rule.Value + " (" + labels[rule.Kind] + ")"
}

// SortForDisplay orders rules by lower-cased value, then kind token.
// The input slice is left untouched.
func SortForDisplay(items []Indexed) []Indexed {
	out := make([]Indexed, len(items))
	copy(out, items)
	sort.SliceStable(out, func(i, j int) bool {
		vi, vj := strings.ToLower(out[i].Rule.Value), strings.ToLower(out[j].Rule.Value)
		if vi != vj {
			return vi < vj
		}
		return out[i].Rule.Kind.Token() < out[j].Rule.Kind.Token()
	})
	return out
}
