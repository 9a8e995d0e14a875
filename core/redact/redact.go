// Package redact detects and masks personally identifiable information in
// transcripts and stage outputs. Detection is pattern-based and deterministic:
// the same text always yields the same spans, so redacted artifacts and leak
// checks are reproducible across runs.
package redact

import (
	"regexp"
	"sort"
	"strings"
)

const (
	EntityEmail      = "email"
	EntityPhone      = "phone"
	EntitySSN        = "ssn"
	EntityCreditCard = "credit_card"
)

// Detection marks one PII span in the scanned text. Start and End are byte
// offsets into the original text, End exclusive.
type Detection struct {
	EntityType string  `json:"entity_type"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Score      float64 `json:"score"`
}

type Detector interface {
	Detect(text string) []Detection
}

var (
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	ssnPattern   = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)
	cardPattern  = regexp.MustCompile(`\b\d{4}[ -]?\d{4}[ -]?\d{4}[ -]?\d{4}\b`)
	phonePattern = regexp.MustCompile(`\+?\d{0,2}[ .\-]?\(?\d{3}\)?[ .\-]?\d{3}[ .\-]?\d{4}\b`)
)

// builtinPatterns is ordered by specificity; earlier entries claim their
// spans first so a card number is never re-reported as a phone number.
var builtinPatterns = []struct {
	entityType string
	pattern    *regexp.Regexp
	score      float64
}{
	{EntityEmail, emailPattern, 0.99},
	{EntitySSN, ssnPattern, 0.95},
	{EntityCreditCard, cardPattern, 0.90},
	{EntityPhone, phonePattern, 0.75},
}

// RegexDetector is the built-in pattern-based detector covering email
// addresses, US social security numbers, payment card numbers, and phone
// numbers.
type RegexDetector struct{}

func NewRegexDetector() RegexDetector { return RegexDetector{} }

func (RegexDetector) Detect(text string) []Detection {
	var found []Detection
	for _, candidate := range builtinPatterns {
		for _, span := range candidate.pattern.FindAllStringIndex(text, -1) {
			if overlapsAny(found, span[0], span[1]) {
				continue
			}
			found = append(found, Detection{
				EntityType: candidate.entityType,
				Start:      span[0],
				End:        span[1],
				Score:      candidate.score,
			})
		}
	}
	sort.Slice(found, func(i, j int) bool {
		if found[i].Start != found[j].Start {
			return found[i].Start < found[j].Start
		}
		return found[i].End < found[j].End
	})
	return found
}

func overlapsAny(accepted []Detection, start, end int) bool {
	for _, d := range accepted {
		if start < d.End && d.Start < end {
			return true
		}
	}
	return false
}

// Apply masks every detected span in text with its entity token, e.g.
// [EMAIL]. Spans that fall outside the bounds of text are ignored.
func Apply(text string, detections []Detection) string {
	valid := make([]Detection, 0, len(detections))
	for _, d := range detections {
		if d.Start < 0 || d.End > len(text) || d.Start >= d.End {
			continue
		}
		valid = append(valid, d)
	}
	if len(valid) == 0 {
		return text
	}
	// Replace back to front so earlier offsets stay valid.
	sort.Slice(valid, func(i, j int) bool { return valid[i].Start > valid[j].Start })
	out := text
	for _, d := range valid {
		out = out[:d.Start] + maskToken(d.EntityType) + out[d.End:]
	}
	return out
}

func maskToken(entityType string) string {
	return "[" + strings.ToUpper(entityType) + "]"
}

// Redact runs detector over text and masks everything found. The returned
// detections carry offsets into the original text.
func Redact(detector Detector, text string) (string, []Detection) {
	detections := detector.Detect(text)
	return Apply(text, detections), detections
}

// Leaked reports which detected values from source reappear verbatim in
// output. Duplicate values are reported once, ordered by first appearance
// in source.
func Leaked(source string, detections []Detection, output string) []Detection {
	if output == "" {
		return nil
	}
	seen := map[string]bool{}
	var leaked []Detection
	for _, d := range detections {
		if d.Start < 0 || d.End > len(source) || d.Start >= d.End {
			continue
		}
		value := source[d.Start:d.End]
		if seen[value] {
			continue
		}
		seen[value] = true
		if strings.Contains(output, value) {
			leaked = append(leaked, d)
		}
	}
	return leaked
}

// EntityTypes returns the sorted unique entity types present in detections.
func EntityTypes(detections []Detection) []string {
	set := map[string]bool{}
	for _, d := range detections {
		set[d.EntityType] = true
	}
	out := make([]string, 0, len(set))
	for entityType := range set {
		out = append(out, entityType)
	}
	sort.Strings(out)
	return out
}
