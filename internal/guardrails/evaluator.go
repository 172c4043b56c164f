// Package guardrails implements keyword moderation applied before any
// upstream call.
package guardrails

import "strings"

// WarningMessage is returned verbatim to callers whose prompt is rejected.
const WarningMessage = "Warning: Prohibited Content Detected! 🚫\n\nYour request contains banned keywords. Please check the content and try again.\n\n-----------------------\n\n警告：请求包含被禁止的关键词，请检查后重试！⚠️"

// Action enumerates evaluator outcomes.
type Action string

const (
	ActionAllow Action = "allow"
	ActionBlock Action = "block"
)

// Result represents the evaluator decision.
type Result struct {
	Action    Action
	Violation string
}

// Blocked reports whether the prompt must be rejected.
func (r Result) Blocked() bool { return r.Action == ActionBlock }

// Evaluator runs moderation with a parsed config.
type Evaluator struct {
	config Config
}

func NewEvaluator(cfg Config) *Evaluator {
	return &Evaluator{config: cfg}
}

// Check tests prompt against the banned list.
func (e *Evaluator) Check(prompt string) Result {
	if !e.config.Enabled() {
		return Result{Action: ActionAllow}
	}
	if violation := matchKeyword(e.config.BlockedKeywords, prompt); violation != "" {
		return Result{Action: ActionBlock, Violation: violation}
	}
	return Result{Action: ActionAllow}
}

// Moderate is a convenience for a one-off check against a raw keyword list.
func Moderate(keywords, prompt string) Result {
	return NewEvaluator(ParseKeywords(keywords)).Check(prompt)
}

func matchKeyword(keywords []string, text string) string {
	lower := strings.ToLower(text)
	for _, keyword := range keywords {
		kw := strings.ToLower(strings.TrimSpace(keyword))
		if kw == "" {
			continue
		}
		if strings.Contains(lower, kw) {
			return keyword
		}
	}
	return ""
}
