package rules

import (
	"fmt"
	"regexp"
	"strings"
)

var ruleLinePattern = regexp.MustCompile(`^\s*([A-Z-]+)\s*,\s*([^,#]+?)\s*(?:,\s*([A-Z]+)\s*)?$`)

// Parse splits text into lines. A trailing newline does not produce an empty last line.
// Every input line maps to exactly one output line at the same position.
func Parse(text string) Document {
	if text == "" {
		return Document{}
	}
	raw := strings.Split(strings.TrimSuffix(text, "\n"), "\n")
	doc := make(Document, 0, len(raw))
	for _, line := range raw {
		doc = append(doc, parseLine(line))
	}
	return doc
}

func parseLine(raw string) Line {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return Line{Kind: LineComment, Text: raw}
	}

	m := ruleLinePattern.FindStringSubmatch(raw)
	if m == nil {
		return Line{Kind: LineUnrecognized, Text: raw}
	}
	kind, ok := ParseKind(m[1])
	value := strings.TrimSpace(m[2])
	if !ok || value == "" {
		return Line{Kind: LineUnrecognized, Text: raw}
	}

	return Line{
		Kind: LineRule,
		Text: raw,
		Rule: &Rule{
			Kind:   kind,
			Value:  value,
			Policy: ParsePolicy(m[3]),
		},
	}
}

// Render joins the document back into file text with a single trailing newline.
// Rule lines are always written in the two-column canonical form.
func Render(doc Document) string {
	if len(doc) == 0 {
		return ""
	}
	var b strings.Builder
	for _, line := range doc {
		if line.IsRule() {
			b.WriteString(line.Rule.Line())
		} else {
			b.WriteString(line.Text)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// Find returns the index of the first rule line matching kind and value.
func Find(doc Document, kind Kind, value string) (int, bool) {
	for i, line := range doc {
		if line.IsRule() && line.Rule.Kind == kind && line.Rule.Value == value {
			return i, true
		}
	}
	return -1, false
}

// List returns every rule with its line index, in document order.
func List(doc Document) []Indexed {
	var out []Indexed
	for i, line := range doc {
		if line.IsRule() {
			out = append(out, Indexed{Index: i, Rule: *line.Rule})
		}
	}
	return out
}

// Insert appends marker (when non-empty) and then the rule to the end of the document.
func Insert(doc Document, rule Rule, marker string) Document {
	out := make(Document, len(doc), len(doc)+2)
	copy(out, doc)
	if marker != "" {
		out = append(out, Line{Kind: LineComment, Text: marker})
	}
	r := rule
	return append(out, Line{Kind: LineRule, Text: r.Line(), Rule: &r})
}

// StripPolicy returns a copy of doc with the policy of the rule at i cleared.
// It panics if i does not reference a rule line.
func StripPolicy(doc Document, i int) Document {
	return ReplacePolicy(doc, i, PolicyNone)
}

// ReplacePolicy returns a copy of doc with the policy of the rule at i set to p.
// It panics if i does not reference a rule line.
func ReplacePolicy(doc Document, i int, p Policy) Document {
	mustRule(doc, i, "ReplacePolicy")
	out := clone(doc)
	r := *doc[i].Rule
	r.Policy = p
	out[i] = Line{Kind: LineRule, Text: doc[i].Text, Rule: &r}
	return out
}

// SoftDelete turns the rule at i into a comment holding its canonical text.
//
// If the line above is an added marker, that marker is replaced by removal, or
// dropped when removal is empty; in the latter case the commented rule ends up
// at index i-1 and every later line shifts up by one. Without a marker above,
// a non-empty removal is inserted directly before the commented rule, shifting
// it to i+1.
//
// It panics if i does not reference a rule line.
func SoftDelete(doc Document, i int, removal string) Document {
	mustRule(doc, i, "SoftDelete")

	keep := i
	if i > 0 && IsAddedMarker(doc[i-1]) {
		keep = i - 1
	}

	out := make(Document, 0, len(doc)+1)
	out = append(out, doc[:keep]...)
	if removal != "" {
		out = append(out, Line{Kind: LineComment, Text: removal})
	}
	out = append(out, Line{Kind: LineComment, Text: "# " + doc[i].Rule.Line()})
	return append(out, doc[i+1:]...)
}

// IsAddedMarker reports whether line is an attribution comment written by AddedMarker.
func IsAddedMarker(line Line) bool {
	return line.Kind == LineComment && strings.HasPrefix(strings.TrimSpace(line.Text), addedPrefix)
}

// CountByKind counts active rules per kind.
func CountByKind(doc Document) map[Kind]int {
	counts := make(map[Kind]int, len(Kinds))
	for _, line := range doc {
		if line.IsRule() {
			counts[line.Rule.Kind]++
		}
	}
	return counts
}

func mustRule(doc Document, i int, op string) {
	if i < 0 || i >= len(doc) {
		panic(fmt.Sprintf("rules: %s: index %d out of range [0,%d)", op, i, len(doc)))
	}
	if !doc[i].IsRule() {
		panic(fmt.Sprintf("rules: %s: line %d is not a rule", op, i))
	}
}

func clone(doc Document) Document {
	out := make(Document, len(doc))
	copy(out, doc)
	return out
}
