package handoff

import (
	"regexp"
	"strings"
)

// Classifier decides whether backend error text means the account is out
// of quota. Pluggable because vendor error formats drift between CLI
// versions.
type Classifier interface {
	IsQuotaExhaustion(text string) bool
	QuotaReason(text string) string
}

// quotaPatterns are intentionally specific: they must match real API
// error messages, not ordinary prose that happens to mention limits.
var quotaPatterns = []string{
	// OpenAI/Codex
	`\binsufficientquota\b`,
	`\binsufficient_quota\b`,
	`\brate_limit_exceeded\b`,
	`\bratelimitexceeded\b`,
	`\bbilling_hard_limit_reached\b`,
	`you\s+exceeded\s+your\s+current\s+quota`,
	`you\s+have\s+exceeded\s+your\s+(rate|usage)\s+limit`,

	// Anthropic
	`\bcredit_balance\b.*\binsufficient\b`,
	`api\s+is\s+overloaded`,
	`rate\s+limit\s+exceeded`,

	// Gemini
	`\bresource_exhausted\b`,
	`quota\s+exceeded\s+for\s+(project|quota)`,

	// Generic
	`\bquota\s+exceeded\b`,
	`\bquota\s+has\s+been\s+exceeded\b`,
	`\binsufficient\s+credits?\b`,
	`\binsufficient\s+quota\b`,
	`\binsufficient\s+funds\b`,
	`\bout\s+of\s+credits?\b`,
	`\bcredits?\s+exhausted\b`,
	`\busage\s+limit\s+exceeded\b`,
	`\bdaily\s+limit\s+(reached|exceeded)\b`,
	`\bbilling\s+limit\s+exceeded\b`,
	`\bbilling\s+limit\s+reached\b`,
	`\bpayment\s+required\b`,
	`\baccount\s+(has\s+been\s+)?(suspended|disabled)\b`,
	`\btoo\s+many\s+requests\b`,
	`\bresource\s+exhausted\b`,
	`429\s+too\s+many\s+requests`,
	`\bhttp\s+429\b`,
	`error\s+429\b`,
}

var quotaRe = regexp.MustCompile("(?i)" + strings.Join(quotaPatterns, "|"))

// RegexClassifier is the default pattern-based classifier.
type RegexClassifier struct{}

// IsQuotaExhaustion reports whether the text matches a known quota or
// billing exhaustion message.
func (RegexClassifier) IsQuotaExhaustion(text string) bool {
	if text == "" {
		return false
	}
	return quotaRe.MatchString(text)
}

// QuotaReason names the category of a quota error for logging. Empty for
// non-quota text.
func (RegexClassifier) QuotaReason(text string) string {
	if text == "" {
		return ""
	}
	lower := strings.ToLower(text)

	switch {
	case strings.Contains(lower, "rate limit") || strings.Contains(lower, "too many requests"):
		return "rate_limit"
	case strings.Contains(lower, "insufficient") &&
		(strings.Contains(lower, "credit") || strings.Contains(lower, "quota")):
		return "insufficient_credits"
	case strings.Contains(lower, "quota") && strings.Contains(lower, "exceeded"):
		return "quota_exceeded"
	case strings.Contains(lower, "billing"):
		return "billing_issue"
	case strings.Contains(lower, "resource exhausted"):
		return "resource_exhausted"
	case strings.Contains(lower, "payment required"):
		return "payment_required"
	case strings.Contains(lower, "suspended") || strings.Contains(lower, "disabled"):
		return "account_suspended"
	}

	if quotaRe.MatchString(text) {
		return "quota_issue"
	}
	return ""
}

var _ Classifier = RegexClassifier{}
