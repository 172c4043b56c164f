package guardrails

import "testing"

func TestModerate(t *testing.T) {
	cases := []struct {
		keywords string
		prompt   string
		blocked  bool
	}{
		{"", "anything", false},
		{" , ,", "anything", false},
		{"gore, NSFW", "an nsfw scene", true},
		{"gore,nsfw", "a GORY scene", false},
		{"gore,nsfw", "GORE", true},
	}
	for _, tc := range cases {
		res := Moderate(tc.keywords, tc.prompt)
		if res.Blocked() != tc.blocked {
			t.Fatalf("keywords=%q prompt=%q: blocked=%v", tc.keywords, tc.prompt, res.Blocked())
		}
	}
}

func TestParseKeywords(t *testing.T) {
	cfg := ParseKeywords(" a ,b,, c")
	if len(cfg.BlockedKeywords) != 3 || cfg.BlockedKeywords[2] != "c" {
		t.Fatalf("unexpected keywords %v", cfg.BlockedKeywords)
	}
}
