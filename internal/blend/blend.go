// Package blend implements the response blender (C5): six (plus one)
// fixed synthesis strategies behind a sealed enum, contribution
// estimation, and information-density scoring (§4.5).
package blend

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"ragcore/internal/query"
	"ragcore/internal/types"
)

// Strategy is one of the sealed set of synthesis strategies (§4.5, §9 —
// "dynamic callables... a sealed set of six strategies behind a shared
// interface, chosen by enum").
type Strategy string

const (
	StrategyLLMGeneration         Strategy = "llm_generation"
	StrategyDocumentExtraction    Strategy = "document_extraction"
	StrategyWeightedCombination   Strategy = "weighted_combination"
	StrategyLLMEnhancedDocuments  Strategy = "llm_enhanced_documents"
	StrategyExtractiveSummary     Strategy = "extractive_summarization"
	StrategyComparativeSynthesis  Strategy = "comparative_synthesis"
	StrategyCreativeBlending      Strategy = "creative_blending"
)

// SelectStrategy chooses the synthesis strategy for a routed request.
// Document/creative/comparison intents pick their dedicated strategy;
// otherwise the mode's document/LLM weight split selects between the
// three general-purpose blending strategies (§4.5's worked examples).
func SelectStrategy(qc query.QueryCharacteristics, decision query.Decision) Strategy {
	switch {
	case decision.Mode == types.ModePureLLM:
		return StrategyLLMGeneration
	case decision.Mode == types.ModeDocumentOnly:
		return StrategyDocumentExtraction
	case qc.Intent == query.IntentComparison:
		return StrategyComparativeSynthesis
	case qc.Intent == query.IntentCreativeGeneration:
		return StrategyCreativeBlending
	case qc.Intent == query.IntentSummarization:
		return StrategyExtractiveSummary
	case decision.LLMWeight > 0.6:
		return StrategyLLMEnhancedDocuments
	default:
		return StrategyWeightedCombination
	}
}

// Input carries everything a strategy needs to produce blended content.
type Input struct {
	Query    string
	LLMText  string
	Chunks   []types.ScoredChunk
	Decision query.Decision
}

// Output is the blended response plus the metrics derived from it.
type Output struct {
	Content              string
	DocumentContribution float64
	LLMContribution      float64
	InformationDensity   types.InformationDensity
}

// Blend dispatches to the strategy named by SelectStrategy, then computes
// contribution and information-density metrics over the result (§4.5).
func Blend(in Input, strategy Strategy) Output {
	var content string
	switch strategy {
	case StrategyLLMGeneration:
		content = in.LLMText
	case StrategyDocumentExtraction:
		content = documentExtraction(in.Chunks)
	case StrategyWeightedCombination:
		content = weightedCombination(in)
	case StrategyLLMEnhancedDocuments:
		content = llmEnhancedDocuments(in)
	case StrategyExtractiveSummary:
		content = extractiveSummarization(in)
	case StrategyComparativeSynthesis:
		content = comparativeSynthesis(in)
	case StrategyCreativeBlending:
		content = creativeBlending(in)
	default:
		content = in.LLMText
	}

	docContribution, llmContribution := contributions(content, in.Chunks, in.LLMText)
	density := informationDensity(content)

	return Output{
		Content:              content,
		DocumentContribution: docContribution,
		LLMContribution:      llmContribution,
		InformationDensity:   density,
	}
}

func documentExtraction(chunks []types.ScoredChunk) string {
	top := topChunks(chunks, 5)
	var b strings.Builder
	for i, c := range top {
		fmt.Fprintf(&b, "%d. %s\n", i+1, strings.TrimSpace(c.Chunk.Content))
	}
	return strings.TrimRight(b.String(), "\n")
}

func weightedCombination(in Input) string {
	docWeight := in.Decision.DocWeight
	llmWeight := in.Decision.LLMWeight
	formatted := documentExtraction(in.Chunks)

	switch {
	case docWeight >= 0.7:
		return "Based on the available documents:\n\n" + formatted + "\n\n" + in.LLMText
	case llmWeight > 0.7:
		return in.LLMText + "\n\n**Additional Context from Documents**\n\n" + formatted
	default:
		return interleave(in.LLMText, in.Chunks)
	}
}

func interleave(llmText string, chunks []types.ScoredChunk) string {
	paragraphs := splitParagraphs(llmText)
	top := topChunks(chunks, len(paragraphs))

	var b strings.Builder
	for i, p := range paragraphs {
		b.WriteString(p)
		if i < len(top) {
			fmt.Fprintf(&b, "\n\n[From documents: %s]\n\n", summarize(top[i].Chunk.Content, 200))
		} else {
			b.WriteString("\n\n")
		}
	}
	return strings.TrimSpace(b.String())
}

func llmEnhancedDocuments(in Input) string {
	return in.LLMText + "\n\n**Supporting Information:**\n\n" + documentExtraction(in.Chunks)
}

func extractiveSummarization(in Input) string {
	var sentences []string
	for _, c := range in.Chunks {
		for _, s := range splitSentences(c.Chunk.Content) {
			if len(strings.TrimSpace(s)) > 20 {
				sentences = append(sentences, strings.TrimSpace(s))
			}
		}
	}
	if len(sentences) > 5 {
		sentences = sentences[:5]
	}

	var b strings.Builder
	for i, s := range sentences {
		fmt.Fprintf(&b, "%d. %s\n", i+1, s)
	}
	out := strings.TrimRight(b.String(), "\n")
	if in.LLMText != "" {
		out += "\n\n**Analysis:**\n\n" + in.LLMText
	}
	return out
}

func comparativeSynthesis(in Input) string {
	groups := make(map[types.ID][]types.ScoredChunk)
	var order []types.ID
	for _, c := range in.Chunks {
		if _, ok := groups[c.Chunk.DocumentID]; !ok {
			order = append(order, c.Chunk.DocumentID)
		}
		groups[c.Chunk.DocumentID] = append(groups[c.Chunk.DocumentID], c)
	}

	var b strings.Builder
	for _, docID := range order {
		fmt.Fprintf(&b, "**Document %s:**\n", docID.String())
		points := keyPoints(groups[docID], 3)
		for _, p := range points {
			fmt.Fprintf(&b, "- %s\n", p)
		}
		b.WriteString("\n")
	}
	out := strings.TrimSpace(b.String())
	if in.LLMText != "" {
		out += "\n\n**Synthesis:**\n\n" + in.LLMText
	}
	return out
}

func creativeBlending(in Input) string {
	out := in.LLMText
	var facts []string
	for _, s := range splitSentences(in.LLMText) {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if containsDigit(s) || containsCopula(s) {
			facts = append(facts, s)
		}
		if len(facts) >= 3 {
			break
		}
	}
	if len(facts) > 0 {
		var b strings.Builder
		b.WriteString("\n\n**Key Facts:**\n")
		for _, f := range facts {
			fmt.Fprintf(&b, "- %s\n", f)
		}
		out += strings.TrimRight(b.String(), "\n")
	}
	return out
}

func keyPoints(chunks []types.ScoredChunk, n int) []string {
	var points []string
	for _, c := range chunks {
		for _, s := range splitSentences(c.Chunk.Content) {
			s = strings.TrimSpace(s)
			if len(s) > 20 {
				points = append(points, s)
			}
			if len(points) >= n {
				return points
			}
		}
	}
	return points
}

func topChunks(chunks []types.ScoredChunk, n int) []types.ScoredChunk {
	sorted := make([]types.ScoredChunk, len(chunks))
	copy(sorted, chunks)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })
	if n < 0 {
		n = 0
	}
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

var sentenceSplit = regexp.MustCompile(`(?:[.!?]+)(?:\s+|$)`)

func splitSentences(text string) []string {
	parts := sentenceSplit.Split(text, -1)
	var out []string
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return out
}

func splitParagraphs(text string) []string {
	parts := strings.Split(text, "\n\n")
	var out []string
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, strings.TrimSpace(p))
		}
	}
	if len(out) == 0 {
		return []string{text}
	}
	return out
}

func summarize(text string, maxLen int) string {
	text = strings.TrimSpace(text)
	if len(text) <= maxLen {
		return text
	}
	return text[:maxLen] + "..."
}

var copulaWords = []string{" is ", " are ", " was ", " were ", " equals "}

func containsCopula(s string) bool {
	lower := " " + strings.ToLower(s) + " "
	for _, c := range copulaWords {
		if strings.Contains(lower, c) {
			return true
		}
	}
	return false
}

func containsDigit(s string) bool {
	for _, r := range s {
		if r >= '0' && r <= '9' {
			return true
		}
	}
	return false
}

// contributions computes word-set overlap between the blended content and
// (a) the concatenation of chunk texts and (b) the LLM text, normalized
// to sum to 1 (§4.5).
func contributions(content string, chunks []types.ScoredChunk, llmText string) (docContribution, llmContribution float64) {
	contentWords := wordSet(content)

	var docTextBuilder strings.Builder
	for _, c := range chunks {
		docTextBuilder.WriteString(c.Chunk.Content)
		docTextBuilder.WriteString(" ")
	}
	docOverlap := overlap(contentWords, wordSet(docTextBuilder.String()))
	llmOverlap := overlap(contentWords, wordSet(llmText))

	total := docOverlap + llmOverlap
	if total == 0 {
		// No chunks and no LLM text to compare against: attribute
		// entirely to whichever source was actually used.
		if len(chunks) > 0 && llmText == "" {
			return 1, 0
		}
		if len(chunks) == 0 && llmText != "" {
			return 0, 1
		}
		return 0.5, 0.5
	}
	return docOverlap / total, llmOverlap / total
}

func wordSet(text string) map[string]bool {
	words := strings.Fields(strings.ToLower(text))
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[strings.Trim(w, ".,!?;:\"'()[]")] = true
	}
	return set
}

func overlap(a, b map[string]bool) float64 {
	count := 0
	for w := range a {
		if b[w] {
			count++
		}
	}
	return float64(count)
}

var listMarkerPattern = regexp.MustCompile(`(?m)^\s*(?:[-*]|\d+\.)\s`)

// informationDensity scores 0.3*(wordcount>200) + 0.2*has_digits +
// 0.2*has_list_markers + 0.3*has_technical_terms, bucketed at
// {0.2,0.4,0.6,0.8} (§4.5).
func informationDensity(content string) types.InformationDensity {
	var score float64
	if len(strings.Fields(content)) > 200 {
		score += 0.3
	}
	if hasDigits(content) {
		score += 0.2
	}
	if listMarkerPattern.MatchString(content) {
		score += 0.2
	}
	if hasTechnicalTerms(content) {
		score += 0.3
	}

	switch {
	case score >= 0.8:
		return types.DensityVeryHigh
	case score >= 0.6:
		return types.DensityHigh
	case score >= 0.4:
		return types.DensityMedium
	case score >= 0.2:
		return types.DensityLow
	default:
		return types.DensityVeryLow
	}
}

func hasDigits(s string) bool {
	for _, r := range s {
		if r >= '0' && r <= '9' {
			return true
		}
	}
	return false
}

var technicalTermList = []string{"api", "algorithm", "database", "function", "architecture", "protocol", "configuration", "implementation", "schema"}

func hasTechnicalTerms(s string) bool {
	lower := strings.ToLower(s)
	for _, t := range technicalTermList {
		if strings.Contains(lower, t) {
			return true
		}
	}
	return false
}
