package prompt

import (
	"strconv"
	"strings"
	"testing"

	"pgregory.net/rapid"
)

func TestExtractResolution(t *testing.T) {
	cases := []struct {
		in, text, size string
	}{
		{"a cat 800x600 at night", "a cat at night", "800x600"},
		{"a cat 800×600", "a cat", "800x600"},
		{"a cat 640*480", "a cat", "640x480"},
		{"a cat 16:9", "a cat", "1024x576"},
		{"a cat 9:16", "a cat", "576x1024"},
		{"portrait of a cat", "of a cat", "768x1024"},
		{"一只猫 横屏", "一只猫", "1024x768"},
		{"Wide shot", "shot", "1024x576"},
		{"just a cat", "just a cat", DefaultSize},
		{"widescreen", "widescreen", DefaultSize},
	}
	for _, tc := range cases {
		text, size := ExtractResolution(tc.in)
		if text != tc.text || size != tc.size {
			t.Fatalf("%q: got (%q, %q) want (%q, %q)", tc.in, text, size, tc.text, tc.size)
		}
	}
}

func TestExtractResolutionIdempotent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		w := rapid.IntRange(1, 4096).Draw(t, "w")
		h := rapid.IntRange(1, 4096).Draw(t, "h")
		words := rapid.SliceOfN(rapid.StringMatching(`[a-z]{1,8}`), 0, 5).Draw(t, "words")
		base := strings.Join(words, " ")
		text := base + " " + strconv.Itoa(w) + "x" + strconv.Itoa(h)

		cleaned, size := ExtractResolution(text)
		if size != strconv.Itoa(w)+"x"+strconv.Itoa(h) {
			t.Fatalf("size %q", size)
		}
		_, again := ExtractResolution(cleaned)
		_, plain := ExtractResolution(base)
		if again != plain {
			t.Fatalf("re-extraction %q differs from %q", again, plain)
		}
	})
}

func TestExtractSeedRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		seed := rapid.Int64Range(0, 1<<40).Draw(t, "seed")
		prefix := rapid.StringMatching(`[a-z ]{0,12}`).Draw(t, "prefix")
		text := prefix + " seed:" + strconv.FormatInt(seed, 10) + " tail"

		cleaned, got := ExtractSeed(text)
		if got == nil || *got != seed {
			t.Fatalf("got %v want %d", got, seed)
		}
		if strings.Contains(cleaned, "seed:") {
			t.Fatalf("cleaned text still has token: %q", cleaned)
		}
	})
}

func TestExtractSeedAbsent(t *testing.T) {
	text, seed := ExtractSeed("  no seed here ")
	if seed != nil || text != "no seed here" {
		t.Fatalf("got (%q, %v)", text, seed)
	}
}

func TestExtractImageCount(t *testing.T) {
	cases := []struct {
		in    string
		max   int
		text  string
		count int
	}{
		{"a cat pic:3", 4, "a cat", 3},
		{"a cat pic:9", 4, "a cat", 4},
		{"pic:0 a cat", 4, "a cat", 1},
		{"a cat", 4, "a cat", 1},
	}
	for _, tc := range cases {
		text, count := ExtractImageCount(tc.in, tc.max)
		if text != tc.text || count != tc.count {
			t.Fatalf("%q: got (%q, %d)", tc.in, text, count)
		}
	}
}

func TestAspectRatio(t *testing.T) {
	cases := map[string]string{
		"1024x576":  "16:9",
		"1024x1024": "1:1",
		"768x512":   "3:2",
		"bogus":     "1:1",
	}
	for in, want := range cases {
		if got := AspectRatio(in); got != want {
			t.Fatalf("%s: got %s want %s", in, got, want)
		}
	}
}

func TestCombinedDirectives(t *testing.T) {
	text, seed := ExtractSeed("a cat seed:42 16:9")
	text, size := ExtractResolution(text)
	if text != "a cat" || size != "1024x576" || seed == nil || *seed != 42 {
		t.Fatalf("got (%q, %q, %v)", text, size, seed)
	}
}
