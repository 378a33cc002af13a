package domain

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Severity classifies guardrail findings.
type Severity string

const (
	// SeverityNone means no guardrail category matched.
	SeverityNone Severity = "none"
	// SeverityWarning flags phrasing the author should reconsider.
	SeverityWarning Severity = "warning"
	// SeverityBlocked prevents the message from leaving authoring.
	SeverityBlocked Severity = "blocked"
)

// GuardrailCategory is one forbidden-content category: the phrases it
// matches, the communication principle it protects, and whether a match
// blocks the message or only warns.
type GuardrailCategory struct {
	Name      string
	Principle string
	Severity  Severity
	Patterns  []string
}

// guardrailCategories is the fixed, ordered category table. Order is part of
// the contract: violations and suggestions are reported in this order so
// results stay deterministic. The first four categories are hard blocks.
var guardrailCategories = []GuardrailCategory{
	{
		Name:      "performance_ranking",
		Principle: "never compare children against each other",
		Severity:  SeverityBlocked,
		Patterns: []string{
			"ranked",
			"ranking",
			"top of the class",
			"bottom of the class",
			"best student",
			"worst student",
			"worst in class",
			"outperformed",
			"compared to other students",
			"behind the rest of the class",
		},
	},
	{
		Name:      "financial_shaming",
		Principle: "billing matters are discussed privately and without shame",
		Severity:  SeverityBlocked,
		Patterns: []string{
			"defaulter",
			"owes money",
			"unpaid balance",
			"outstanding debt",
			"blacklisted",
			"will be excluded until payment",
			"cannot afford",
		},
	},
	{
		Name:      "sensitive_personal",
		Principle: "medical and personal data never travels in free text",
		Severity:  SeverityBlocked,
		Patterns: []string{
			"diagnosis",
			"diagnosed with",
			"medication",
			"adhd",
			"autism",
			"therapy session",
			"medical record",
			"special needs assessment",
		},
	},
	{
		Name:      "internal_system",
		Principle: "internal tooling stays invisible to families",
		Severity:  SeverityBlocked,
		Patterns: []string{
			"ai generated",
			"ai-generated",
			"generated by ai",
			"language model",
			"chatgpt",
			"auto-generated",
			"system error",
			"stack trace",
			"null pointer",
		},
	},
	{
		Name:      "negative_labeling",
		Principle: "describe behavior, not character",
		Severity:  SeverityWarning,
		Patterns: []string{
			"lazy",
			"careless",
			"disruptive",
			"troublemaker",
			"a failure",
			"hopeless",
		},
	},
	{
		Name:      "pressure_language",
		Principle: "parents are partners, not targets of ultimatums",
		Severity:  SeverityWarning,
		Patterns: []string{
			"final warning",
			"last chance",
			"or else",
			"must comply",
			"immediately or",
		},
	},
	{
		Name:      "absolute_language",
		Principle: "report observations, not absolutes",
		Severity:  SeverityWarning,
		Patterns: []string{
			"always misbehaves",
			"never listens",
			"never completes",
			"always late",
			"never participates",
		},
	},
}

// GuardrailCategories returns a copy of the ordered category table.
func GuardrailCategories() []GuardrailCategory {
	table := make([]GuardrailCategory, len(guardrailCategories))
	copy(table, guardrailCategories)
	return table
}

// safeAlternatives maps forbidden phrases to safer phrasing. Lookup is by
// lowercased matched text; misses produce no suggestion.
var safeAlternatives = map[string]string{
	"ranked":              "describe the student's own progress instead of a ranking",
	"ranking":             "describe the student's own progress instead of a ranking",
	"top of the class":    "is showing strong progress this term",
	"bottom of the class": "would benefit from extra support this term",
	"best student":        "is showing strong progress this term",
	"worst student":       "would benefit from extra support this term",
	"worst in class":      "would benefit from extra support this term",
	"outperformed":        "made notable progress",
	"defaulter":           "has an open billing item",
	"owes money":          "has an open billing item",
	"unpaid balance":      "has an open billing item",
	"outstanding debt":    "has an open billing item",
	"lazy":                "is still building consistent work habits",
	"careless":            "is still building attention to detail",
	"disruptive":          "is learning to manage classroom focus",
	"troublemaker":        "is learning to manage classroom focus",
	"a failure":           "did not reach the goal this time",
	"hopeless":            "needs a different kind of support",
	"final warning":       "a reminder that a response is needed",
	"last chance":         "a reminder that a response is needed",
	"always misbehaves":   "has had repeated behavior incidents recently",
	"never listens":       "has had trouble following instructions recently",
	"never completes":     "has left several assignments unfinished recently",
	"always late":         "has arrived late several times recently",
	"never participates":  "has been quiet in class discussions recently",
}

// Violation is one guardrail match inside validated content.
type Violation struct {
	Category    string
	MatchedText string
	Position    int
	Principle   string
	Severity    Severity
}

// ValidationResult is the outcome of scanning one text against the guardrail
// category table.
type ValidationResult struct {
	IsValid     bool
	Violations  []Violation
	Severity    Severity
	Suggestions []string
}

// lowerWithOffsets lowercases text rune by rune and maps every byte of the
// lowered form, plus the end boundary, back to its byte offset in the
// original text. Lowering changes byte width for some runes, so match
// positions found in the lowered form cannot index the original directly.
func lowerWithOffsets(text string) (string, []int) {
	var lowered strings.Builder
	lowered.Grow(len(text))
	offsets := make([]int, 0, len(text)+1)
	for i, r := range text {
		low := unicode.ToLower(r)
		for n := utf8.RuneLen(low); n > 0; n-- {
			offsets = append(offsets, i)
		}
		lowered.WriteRune(low)
	}
	offsets = append(offsets, len(text))
	return lowered.String(), offsets
}

// ValidateContent scans text against every guardrail category and records
// every case-insensitive match, including overlapping matches of the same
// substring from different categories; duplicates across categories are
// intentional and are not collapsed. Violation positions and matched text
// refer to the original text. The overall severity is blocked when any
// blocked-category match exists, warning when only warning matches exist, and
// none otherwise. IsValid is false only for blocked content.
func ValidateContent(text string) ValidationResult {
	lowered, offsets := lowerWithOffsets(text)

	var violations []Violation
	var suggestions []string
	seenSuggestions := make(map[string]bool)
	severity := SeverityNone

	for _, category := range guardrailCategories {
		for _, pattern := range category.Patterns {
			needle := strings.ToLower(pattern)
			if needle == "" {
				continue
			}
			for from := 0; ; {
				idx := strings.Index(lowered[from:], needle)
				if idx < 0 {
					break
				}
				position := from + idx
				start := offsets[position]
				end := offsets[position+len(needle)]
				violations = append(violations, Violation{
					Category:    category.Name,
					MatchedText: text[start:end],
					Position:    start,
					Principle:   category.Principle,
					Severity:    category.Severity,
				})
				if alternative, ok := safeAlternatives[needle]; ok && !seenSuggestions[alternative] {
					seenSuggestions[alternative] = true
					suggestions = append(suggestions, alternative)
				}
				severity = raiseSeverity(severity, category.Severity)
				from = position + 1
			}
		}
	}

	return ValidationResult{
		IsValid:     severity != SeverityBlocked,
		Violations:  violations,
		Severity:    severity,
		Suggestions: suggestions,
	}
}

func raiseSeverity(current, candidate Severity) Severity {
	if current == SeverityBlocked || candidate == SeverityBlocked {
		return SeverityBlocked
	}
	if current == SeverityWarning || candidate == SeverityWarning {
		return SeverityWarning
	}
	return SeverityNone
}
