package memory

import (
	"regexp"
	"strings"
)

// Entities is the result of one extraction. Empty strings mean no match.
type Entities struct {
	AccountID     string   `json:"account_id,omitempty"`
	CustomerName  string   `json:"customer_name,omitempty"`
	BillingPeriod string   `json:"billing_period,omitempty"`
	DollarAmounts []string `json:"dollar_amounts,omitempty"`
	Topic         string   `json:"topic,omitempty"`
}

func (e Entities) HasAny() bool {
	return e.AccountID != "" || e.CustomerName != "" || e.BillingPeriod != "" ||
		len(e.DollarAmounts) > 0 || e.Topic != ""
}

type topicKeywords struct {
	topic    string
	keywords []string
}

// topicTable is scored in order; on a tie the earlier topic wins.
var topicTable = []topicKeywords{
	{"billing", []string{"bill", "invoice", "charge", "payment", "amount", "due", "balance"}},
	{"plans", []string{"plan", "upgrade", "downgrade", "package", "subscription"}},
	{"dispute", []string{"dispute", "wrong", "incorrect", "error", "overcharge", "refund"}},
	{"late_fee", []string{"late", "fee", "penalty", "overdue"}},
	{"support", []string{"help", "support", "issue", "problem", "question"}},
}

const months = `January|February|March|April|May|June|July|August|September|October|November|December`

var (
	accountPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(ACC-[A-Z0-9]+-[A-Z0-9]+)\b`),
		regexp.MustCompile(`(?i)\b(ACC-\d{9,12})\b`),
		regexp.MustCompile(`(?i)\baccount\s*(?:number|#|id)?:?\s*([A-Z0-9-]+)\b`),
		regexp.MustCompile(`(?i)\baccount\s+is\s+([A-Z0-9-]+)\b`),
	}

	namePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i:\bI'm|\bI am|\bmy name is|\bthis is)\s+([A-Z][a-z]+)`),
		regexp.MustCompile(`^([A-Z][a-z]+)\s+here\b`),
	}

	periodPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(` + months + `|Jan|Feb|Mar|Apr|Jun|Jul|Aug|Sep|Oct|Nov|Dec)\s+(\d{4})\b`),
		regexp.MustCompile(`(?i)\b(` + months + `)\s+bill\b`),
		regexp.MustCompile(`(?i)\b(this month|last month|current month|previous month)\b`),
	}

	amountPattern = regexp.MustCompile(`\$([0-9]+(?:\.[0-9]{2})?)`)
)

// Extractor pulls entities out of free text with a fixed, pre-compiled
// pattern set. It holds no state and is safe for concurrent use.
type Extractor struct{}

func NewExtractor() *Extractor { return &Extractor{} }

func (x *Extractor) Extract(text string) Entities {
	return Entities{
		AccountID:     extractAccountID(text),
		CustomerName:  extractName(text),
		BillingPeriod: extractPeriod(text),
		DollarAmounts: extractAmounts(text),
		Topic:         extractTopic(text),
	}
}

// extractAccountID skips captures without a digit or an ACC prefix so that
// phrases like "my account is" or "account balance" do not yield an id.
func extractAccountID(text string) string {
	for _, p := range accountPatterns {
		for _, m := range p.FindAllStringSubmatch(text, -1) {
			id := strings.ToUpper(strings.Trim(m[1], "-"))
			if plausibleAccountID(id) {
				return id
			}
		}
	}
	return ""
}

func plausibleAccountID(id string) bool {
	if strings.HasPrefix(id, "ACC") {
		return true
	}
	return strings.ContainsAny(id, "0123456789")
}

func extractName(text string) string {
	for _, p := range namePatterns {
		if m := p.FindStringSubmatch(text); m != nil {
			return titleCase(m[1])
		}
	}
	return ""
}

func extractPeriod(text string) string {
	for _, p := range periodPatterns {
		m := p.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		if len(m) >= 3 && m[2] != "" {
			return m[1] + " " + m[2]
		}
		return m[0]
	}
	return ""
}

func extractAmounts(text string) []string {
	matches := amountPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, "$"+m[1])
	}
	return out
}

func extractTopic(text string) string {
	lower := strings.ToLower(text)
	best, bestScore := "", 0
	for _, entry := range topicTable {
		score := 0
		for _, kw := range entry.keywords {
			if strings.Contains(lower, kw) {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = entry.topic, score
		}
	}
	return best
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}
