// Package prompt extracts inline generation directives (size, seed, image
// count) from free-form user text.
package prompt

import (
	"regexp"
	"strconv"
	"strings"
)

// DefaultSize is used when the text carries no size hint.
const DefaultSize = "1024x1024"

var (
	explicitSizePattern = regexp.MustCompile(`\b(\d+)[xX×*](\d+)\b`)
	seedPattern         = regexp.MustCompile(`\bseed:(-?\d+)\b`)
	countPattern        = regexp.MustCompile(`\bpic:(\d+)\b`)
	spacesPattern       = regexp.MustCompile(`[ \t]{2,}`)
)

type hint struct {
	pattern *regexp.Regexp
	size    string
}

// ratioHints are tried in order; the first hit wins.
var ratioHints = []hint{
	{regexp.MustCompile(`\b1:1\b`), "1024x1024"},
	{regexp.MustCompile(`\b1:2\b`), "512x1024"},
	{regexp.MustCompile(`\b2:1\b`), "1024x512"},
	{regexp.MustCompile(`\b3:2\b`), "768x512"},
	{regexp.MustCompile(`\b2:3\b`), "512x768"},
	{regexp.MustCompile(`\b3:4\b`), "768x1024"},
	{regexp.MustCompile(`\b4:3\b`), "1024x768"},
	{regexp.MustCompile(`\b16:9\b`), "1024x576"},
	{regexp.MustCompile(`\b9:16\b`), "576x1024"},
}

// Go's \b is ASCII only, so the CJK keywords match without word boundaries.
var keywordHints = []hint{
	{regexp.MustCompile(`(?i)\bsquare\b|正方形`), "1024x1024"},
	{regexp.MustCompile(`(?i)\blandscape\b|横向|横屏`), "1024x768"},
	{regexp.MustCompile(`(?i)\bportrait\b|纵向|竖屏`), "768x1024"},
	{regexp.MustCompile(`(?i)\bwide\b|宽屏`), "1024x576"},
}

// ExtractResolution finds the first size hint in text and returns the text
// with that hint removed together with a WxH size. Explicit sizes win over
// aspect ratios, which win over keywords.
func ExtractResolution(text string) (string, string) {
	if loc := explicitSizePattern.FindStringSubmatchIndex(text); loc != nil {
		size := text[loc[2]:loc[3]] + "x" + text[loc[4]:loc[5]]
		return strip(text, loc[0], loc[1]), size
	}
	for _, h := range ratioHints {
		if loc := h.pattern.FindStringIndex(text); loc != nil {
			return strip(text, loc[0], loc[1]), h.size
		}
	}
	for _, h := range keywordHints {
		if loc := h.pattern.FindStringIndex(text); loc != nil {
			return strip(text, loc[0], loc[1]), h.size
		}
	}
	return strings.TrimSpace(text), DefaultSize
}

// ExtractSeed finds a seed:<int> token.
func ExtractSeed(text string) (string, *int64) {
	loc := seedPattern.FindStringSubmatchIndex(text)
	if loc == nil {
		return strings.TrimSpace(text), nil
	}
	seed, err := strconv.ParseInt(text[loc[2]:loc[3]], 10, 64)
	if err != nil {
		return strings.TrimSpace(text), nil
	}
	return strip(text, loc[0], loc[1]), &seed
}

// ExtractImageCount reads a pic:<n> directive. The count defaults to 1 and is
// clamped to [1, max]; every pic:<n> token is removed.
func ExtractImageCount(text string, max int) (string, int) {
	m := countPattern.FindStringSubmatch(text)
	if m == nil {
		return text, 1
	}
	count, err := strconv.Atoi(m[1])
	if err != nil || count < 1 {
		count = 1
	}
	if max > 0 && count > max {
		count = max
	}
	return strings.TrimSpace(countPattern.ReplaceAllString(text, "")), count
}

func strip(text string, start, end int) string {
	out := text[:start] + text[end:]
	out = spacesPattern.ReplaceAllString(out, " ")
	return strings.TrimSpace(out)
}

// ParseSize splits a WxH string. ok is false for anything malformed or
// non-positive.
func ParseSize(size string) (width, height int, ok bool) {
	w, h, found := strings.Cut(strings.ToLower(strings.TrimSpace(size)), "x")
	if !found {
		return 0, 0, false
	}
	width, errW := strconv.Atoi(w)
	height, errH := strconv.Atoi(h)
	if errW != nil || errH != nil || width <= 0 || height <= 0 {
		return 0, 0, false
	}
	return width, height, true
}

// AspectRatio reduces a WxH size to W:H by the greatest common divisor.
// Malformed sizes yield "1:1".
func AspectRatio(size string) string {
	w, h, ok := ParseSize(size)
	if !ok {
		return "1:1"
	}
	d := gcd(w, h)
	return strconv.Itoa(w/d) + ":" + strconv.Itoa(h/d)
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}
