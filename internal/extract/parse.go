package extract

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/towdesk/leadpipe/internal/listing"
)

var weekdays = []string{
	"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday",
}

var dayLinePatterns = func() map[string]*regexp.Regexp {
	out := make(map[string]*regexp.Regexp, len(weekdays))
	for _, day := range weekdays {
		out[day] = regexp.MustCompile(`(?i)` + day + `[\s:–-]*([^\n]+)`)
	}
	return out
}()

var alwaysOpenPattern = regexp.MustCompile(`(?i)24\s*/\s*7|24\s+hours|always\s+open|open\s+24`)

// pageText extracts visible text from an HTML document. Script and style
// bodies are stripped so keyword heuristics don't match framework bundles.
func pageText(body []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	doc.Find("script, style, noscript").Remove()

	var sb strings.Builder
	doc.Find("body").Each(func(_ int, sel *goquery.Selection) {
		sb.WriteString(sel.Text())
		sb.WriteByte('\n')
	})
	text := sb.String()
	if strings.TrimSpace(text) == "" {
		// Documents without a body element still may carry text nodes.
		text = doc.Text()
	}
	return text, nil
}

// parseHours scans page text for per-day schedules and 24/7 indicators.
// Returns nil when nothing resembling a schedule was found.
func parseHours(text string) *listing.Hours {
	hours := &listing.Hours{}
	for _, day := range weekdays {
		match := dayLinePatterns[day].FindStringSubmatch(text)
		if match == nil {
			continue
		}
		value := strings.TrimSpace(match[1])
		if value == "" {
			continue
		}
		if hours.Days == nil {
			hours.Days = make(map[string]string, len(weekdays))
		}
		hours.Days[day] = value
	}
	if alwaysOpenPattern.MatchString(text) {
		hours.AlwaysOpen = true
	}
	if hours.Empty() {
		return nil
	}
	return hours
}

// Impound keyword tables. The positive list is counted; any negative phrase
// short-circuits to a confident no.
var impoundKeywords = []string{
	"impound lot",
	"impound yard",
	"vehicle impound",
	"car impound",
	"towing impound",
	"impoundment",
	"impounded vehicles",
	"impound storage",
	"police impound",
	// Bare mention counts as its own hit, so specific phrases score at
	// least two.
	"impound",
}

var impoundNegatives = []string{
	"we do not impound",
	"no impound",
	"not an impound",
}

// detectImpound scores the page for impound-service signals. The output is
// three-valued: a confident yes or no, or unknown when the page says nothing
// either way. Unknown projects to false at the storage boundary.
func detectImpound(text string) ImpoundSignal {
	lower := strings.ToLower(text)

	for _, phrase := range impoundNegatives {
		if strings.Contains(lower, phrase) {
			return ImpoundSignal{Verdict: VerdictNo, Score: 0.9}
		}
	}

	matches := 0
	for _, kw := range impoundKeywords {
		if strings.Contains(lower, kw) {
			matches++
		}
	}
	switch {
	case matches == 0:
		return ImpoundSignal{Verdict: VerdictUnknown, Score: 0.3}
	case matches == 1:
		return ImpoundSignal{Verdict: VerdictYes, Score: 0.6}
	case matches == 2:
		return ImpoundSignal{Verdict: VerdictYes, Score: 0.8}
	default:
		return ImpoundSignal{Verdict: VerdictYes, Score: 0.95}
	}
}

// serviceKeywords are the service tags recognized in page text. Longer
// phrases come first so "heavy duty towing" doesn't collapse into "towing".
var serviceKeywords = []string{
	"heavy duty towing",
	"long distance towing",
	"motorcycle towing",
	"flatbed towing",
	"accident recovery",
	"roadside assistance",
	"jump start",
	"tire change",
	"fuel delivery",
	"winch out",
	"lockout",
}

// extractServices collects recognized service tags, deduplicated
// case-insensitively, in table order.
func extractServices(text string) []string {
	lower := strings.ToLower(text)
	seen := make(map[string]struct{}, len(serviceKeywords))
	var out []string
	for _, kw := range serviceKeywords {
		if _, dup := seen[kw]; dup {
			continue
		}
		if strings.Contains(lower, kw) {
			seen[kw] = struct{}{}
			out = append(out, kw)
		}
	}
	return out
}

// Markers that indicate a bot wall rather than real content.
var botWallMarkers = []string{
	"verify you are a human",
	"checking your browser",
	"enable javascript and cookies",
	"access denied",
	"cf-challenge",
}

func looksBotWalled(text string) bool {
	lower := strings.ToLower(text)
	for _, marker := range botWallMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
