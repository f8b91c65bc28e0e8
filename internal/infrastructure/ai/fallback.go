package ai

import (
	"path/filepath"
	"strings"

	"github.com/metrodocs/document-pipeline/internal/core/domain"
)

// fallbackRule matches against the lowercased filename and text. First match
// wins, so more specific markers sit earlier in the table.
type fallbackRule struct {
	markers      []string
	documentType string
	confidence   float64
}

var fallbackRules = []fallbackRule{
	{markers: []string{"invoice", "bill"}, documentType: "invoice", confidence: 0.7},
	{markers: []string{"drawing", "plan", "blueprint"}, documentType: "technical_drawing", confidence: 0.75},
	{markers: []string{"contract", "agreement"}, documentType: "contract", confidence: 0.75},
	{markers: []string{"report"}, documentType: "report", confidence: 0.7},
	{markers: []string{"safety", "incident"}, documentType: "safety_document", confidence: 0.75},
	{markers: []string{"maintenance"}, documentType: "maintenance_record", confidence: 0.7},
}

// RuleClassifier is the deterministic fallback used when the delegate is
// unreachable. It is total: every input yields a classification.
type RuleClassifier struct{}

func NewRuleClassifier() *RuleClassifier {
	return &RuleClassifier{}
}

func (r *RuleClassifier) Classify(filePath, ocrText string) domain.Classification {
	switch strings.TrimPrefix(strings.ToLower(filepath.Ext(filePath)), ".") {
	case "dwg", "dxf":
		return domain.Classification{DocumentType: "technical_drawing", Confidence: 0.8}
	}

	haystack := strings.ToLower(filepath.Base(filePath)) + " " + strings.ToLower(ocrText)
	for _, rule := range fallbackRules {
		for _, marker := range rule.markers {
			if strings.Contains(haystack, marker) {
				return domain.Classification{DocumentType: rule.documentType, Confidence: rule.confidence}
			}
		}
	}
	return domain.Classification{DocumentType: "unknown", Confidence: 0.5}
}
