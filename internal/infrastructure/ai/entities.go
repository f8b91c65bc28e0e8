package ai

import (
	"regexp"

	"github.com/metrodocs/document-pipeline/internal/core/domain"
)

// Extraction is deliberately permissive: matches from every pattern are
// concatenated and duplicates are kept. Recall over precision.
var (
	datePatterns = []*regexp.Regexp{
		regexp.MustCompile(`\b\d{1,2}/\d{1,2}/\d{4}\b`),
		regexp.MustCompile(`\b\d{4}-\d{1,2}-\d{1,2}\b`),
		regexp.MustCompile(`\b\d{1,2}-\d{1,2}-\d{4}\b`),
	}
	amountPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\$\s?\d[\d,]*(?:\.\d+)?`),
		regexp.MustCompile(`\bUSD\s?\d[\d,]*(?:\.\d+)?`),
		regexp.MustCompile(`₹\s?\d[\d,]*(?:\.\d+)?`),
		regexp.MustCompile(`\bINR\s?\d[\d,]*(?:\.\d+)?`),
	}
	projectCodePatterns = []*regexp.Regexp{
		regexp.MustCompile(`\b[A-Z]{2,4}-\d{3,4}\b`),
		regexp.MustCompile(`\b(?:KMRL|METRO)-\d+-\d+\b`),
	}
)

// RegexExtractor scans text for dates, monetary amounts, and project codes.
type RegexExtractor struct{}

func NewRegexExtractor() *RegexExtractor {
	return &RegexExtractor{}
}

func (x *RegexExtractor) Extract(text string) domain.Entities {
	return domain.Entities{
		Dates:        collectMatches(datePatterns, text),
		Amounts:      collectMatches(amountPatterns, text),
		ProjectCodes: collectMatches(projectCodePatterns, text),
	}
}

func collectMatches(patterns []*regexp.Regexp, text string) []string {
	out := []string{}
	for _, pattern := range patterns {
		out = append(out, pattern.FindAllString(text, -1)...)
	}
	return out
}
