package parser

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// maxCount is the largest integer a float64 holds exactly.
const maxCount = 1 << 53

var (
	compactCountRegex = regexp.MustCompile(`^([0-9.,]+)([kKmM])?$`)
	firstNumberRegex  = regexp.MustCompile(`([0-9][0-9,.]*)`)
	firstDigitsRegex  = regexp.MustCompile(`(\d+)`)
)

// ParseCompactCount parses engagement counters like "42", "1,204", "6.8K"
// or "1.2M". Text that is not wholly a count falls back to its first
// digit run. Text without digits reports false.
func ParseCompactCount(text string) (int, bool) {
	text = strings.Join(strings.Fields(text), "")
	if text == "" {
		return 0, false
	}

	if m := compactCountRegex.FindStringSubmatch(text); m != nil {
		value, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
		if err != nil {
			return 0, false
		}
		switch strings.ToUpper(m[2]) {
		case "K":
			return toCount(math.Round(value * 1_000))
		case "M":
			return toCount(math.Round(value * 1_000_000))
		default:
			return toCount(value)
		}
	}

	m := firstNumberRegex.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	value, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
	if err != nil {
		return 0, false
	}
	return toCount(value)
}

func toCount(value float64) (int, bool) {
	if math.IsNaN(value) || value < 0 || value > maxCount {
		return 0, false
	}
	return int(value), true
}

// FirstInt returns the first run of digits in text, as used for reply
// count labels like "12 Replies".
func FirstInt(text string) (int, bool) {
	m := firstDigitsRegex.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}
