// Copyright 2026 The routeguard Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package routing

import (
	"regexp"
	"strings"
)

// ConfidenceScorer estimates how likely a static response is to satisfy a
// query. Scoring is pure: the same inputs always produce the same score and
// the same ordered reason list.
type ConfidenceScorer struct{}

// NewConfidenceScorer creates a scorer.
func NewConfidenceScorer() *ConfidenceScorer {
	return &ConfidenceScorer{}
}

// Intents whose answers rarely depend on session specifics.
var commonIntents = map[string]bool{
	"greeting":   true,
	"farewell":   true,
	"thanks":     true,
	"smalltalk":  true,
	"definition": true,
	"faq":        true,
}

// Canonical terms with stable, well-known definitions.
var canonicalTerms = []string{
	"solid", "rest", "http", "acid", "dry", "kiss", "yagni",
	"crud", "mvc", "oop", "tcp", "dns", "tls", "json", "yaml",
}

// Technology tokens used to detect queries that span many moving parts.
var techTokens = []string{
	"docker", "kubernetes", "redis", "postgres", "mysql", "kafka",
	"grpc", "graphql", "react", "vue", "angular", "terraform",
	"nginx", "rabbitmq", "elasticsearch", "mongodb", "aws", "gcp",
	"azure", "linux", "python", "java", "rust", "golang",
}

var (
	comparisonPattern = regexp.MustCompile(`\b(difference between|vs\.?|versus|compared? (to|with))\b`)
	definitionPattern = regexp.MustCompile(`^\s*(what is|what are|what does|define|explain)\b`)
	filePathPattern   = regexp.MustCompile(`(\S+\.(go|py|js|ts|java|rs|c|cpp|h|rb|php|yaml|yml|json|toml))\b|\bline \d+\b`)
)

// Calculate scores a query in [0, 1] along with the rules that fired, in
// evaluation order. Higher means a static response is more likely adequate.
func (s *ConfidenceScorer) Calculate(query, intent, contextText string, hasWorkspaceContext bool) (float64, []string) {
	confidence := 0.5
	reasons := []string{"base"}
	lower := strings.ToLower(query)

	if commonIntents[strings.ToLower(intent)] {
		confidence += 0.2
		reasons = append(reasons, "common intent")
	}
	if comparisonPattern.MatchString(lower) {
		confidence += 0.15
		reasons = append(reasons, "comparison question")
	}
	if definitionPattern.MatchString(lower) {
		confidence += 0.15
		reasons = append(reasons, "definition question")
	}
	if containsCanonicalTerm(lower) {
		confidence += 0.1
		reasons = append(reasons, "canonical term")
	}

	if distinctTechTokens(lower) >= 5 {
		confidence -= 0.2
		reasons = append(reasons, "many technologies")
	}
	if len(strings.Fields(query)) > 50 {
		confidence -= 0.15
		reasons = append(reasons, "long query")
	}
	if hasWorkspaceContext || strings.TrimSpace(contextText) != "" {
		confidence -= 0.2
		reasons = append(reasons, "workspace context")
	}
	if filePathPattern.MatchString(lower) {
		confidence -= 0.35
		reasons = append(reasons, "references specific code")
	}

	return clamp01(confidence), reasons
}

func containsCanonicalTerm(lower string) bool {
	words := strings.FieldsFunc(lower, func(r rune) bool {
		return (r < 'a' || r > 'z') && (r < '0' || r > '9')
	})
	for _, w := range words {
		for _, term := range canonicalTerms {
			if w == term {
				return true
			}
		}
	}
	return false
}

func distinctTechTokens(lower string) int {
	count := 0
	for _, token := range techTokens {
		if strings.Contains(lower, token) {
			count++
		}
	}
	return count
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
