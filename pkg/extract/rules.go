package extract

import (
	"regexp"
	"strings"

	"github.com/papercomputeco/warden/pkg/memory"
)

type rule struct {
	pattern  *regexp.Regexp
	category memory.Category
	format   string
}

// Each pattern captures the object of the phrase up to the end of the clause.
var rules = []rule{
	{regexp.MustCompile(`(?i)\bI\s+work\s+(?:at|for)\s+([^.,;!?]+)`), memory.CategoryContext, "Works at %s"},
	{regexp.MustCompile(`(?i)\bI(?:'m|\s+am)\s+(?:currently\s+)?(?:based|located)\s+in\s+([^.,;!?]+)`), memory.CategoryContext, "Based in %s"},
	{regexp.MustCompile(`(?i)\bI(?:'m|\s+am)\s+(an?\s+[^.,;!?]+)`), memory.CategoryContext, "Is %s"},
	{regexp.MustCompile(`(?i)\bI\s+prefer\s+([^.,;!?]+)`), memory.CategoryPreference, "Prefers %s"},
	{regexp.MustCompile(`(?i)\b(?:we|I)\s+(?:must|need\s+to|have\s+to)\s+comply\s+with\s+([^.,;!?]+)`), memory.CategoryConstraint, "Must comply with %s"},
}

var clauseBreak = regexp.MustCompile(`(?i)\s+(?:and|but|so|because|which|who)\s+`)

const ruleConfidence = 0.6

// Rules extracts facts from fixed first-person phrases.
func Rules(text string) []memory.Record {
	var out []memory.Record
	for _, r := range rules {
		for _, m := range r.pattern.FindAllStringSubmatch(text, -1) {
			object := strings.TrimSpace(clauseBreak.Split(m[1], 2)[0])
			if object == "" {
				continue
			}
			out = append(out, memory.Record{
				Text:       strings.Replace(r.format, "%s", object, 1),
				Category:   r.category,
				Confidence: ruleConfidence,
			})
		}
	}
	return out
}
