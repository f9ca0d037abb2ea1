package sources

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var amountPattern = regexp.MustCompile(`([\d,\.]+)`)

// parseAmount extracts a numeric amount from free text, applying million or
// billion multipliers when the text names one. Returns nil when no number
// is present.
func parseAmount(text string) *float64 {
	match := amountPattern.FindStringSubmatch(text)
	if match == nil {
		return nil
	}
	value, err := strconv.ParseFloat(strings.ReplaceAll(match[1], ",", ""), 64)
	if err != nil {
		return nil
	}

	upper := strings.ToUpper(text)
	switch {
	case strings.Contains(upper, "BILLION"):
		value *= 1e9
	case strings.Contains(upper, "MILLION"):
		value *= 1e6
	}
	return &value
}

// reformatDate parses a date in the given layout and renders it as
// YYYY-MM-DD, or "" when the text does not match.
func reformatDate(layout, text string) string {
	parsed, err := time.Parse(layout, strings.TrimSpace(text))
	if err != nil {
		return ""
	}
	return parsed.Format("2006-01-02")
}

// joinPipe joins the non-empty trimmed values with "|", the delimiter used
// for every list-valued project field.
func joinPipe(values []string) string {
	var out []string
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return strings.Join(out, "|")
}

// cleanText collapses the whitespace padding scraped nodes carry.
func cleanText(s string) string {
	return strings.Trim(s, " \r\n\t")
}
