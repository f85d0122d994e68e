package rules

import "testing"

func FuzzParseRender(f *testing.F) {
	f.Add("DOMAIN,foo.com,PROXY\n# c\n\nIP-CIDR,1.2.3.0/24\n")
	f.Add("DOMAIN-KEYWORD , ads , REJECT")
	f.Add("\n\n")
	f.Add("garbage,,\n#")

	f.Fuzz(func(t *testing.T, text string) {
		once := Render(Parse(text))
		twice := Render(Parse(once))
		if once != twice {
			t.Fatalf("render not stable:\nfirst:  %q\nsecond: %q", once, twice)
		}
		for _, it := range List(Parse(once)) {
			if it.Rule.HasPolicy() {
				t.Fatalf("policy survived render at line %d: %q", it.Index, once)
			}
		}
	})
}
