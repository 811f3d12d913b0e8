// Package threshold implements the adaptive threshold manager (C2): the
// per-provider similarity threshold configuration, the retry-threshold
// cascade used by the retrieval engine (C3), performance logging, and the
// recommendation engine that mines past performance logs for better
// defaults.
package threshold

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"math"
	"sort"
	"time"

	"ragcore/internal/logging"
	"ragcore/internal/types"
)

// ProviderConfig carries one provider's threshold seed values (spec §4.2).
type ProviderConfig struct {
	Default               float64
	Min                    float64
	Max                    float64
	Step                   float64
	RetryList              []*float64 // nil entry = "no threshold"
	ContentTypeAdjustments map[string]float64
}

var ptr = func(f float64) *float64 { return &f }

// DefaultProviderConfigs returns the seed table of spec §4.2, keyed by
// provider name. Content-type adjustment deltas are scaled by the
// provider's step per spec's "(scaled by provider step)" note, relative
// to openai's 0.10 step baseline.
func DefaultProviderConfigs() map[string]ProviderConfig {
	base := map[string]float64{
		"technical":     0.05,
		"conversational": -0.05,
		"code":          0.10,
		"legal":         0.08,
	}
	scale := func(step float64) map[string]float64 {
		out := make(map[string]float64, len(base))
		factor := step / 0.10
		for k, v := range base {
			out[k] = v * factor
		}
		return out
	}

	return map[string]ProviderConfig{
		"openai": {
			Default: 0.70, Min: 0.30, Max: 0.95, Step: 0.10,
			RetryList:              []*float64{ptr(0.7), ptr(0.5), ptr(0.3), ptr(0.1)},
			ContentTypeAdjustments: scale(0.10),
		},
		"gemini": {
			Default: 0.01, Min: 0.001, Max: 0.50, Step: 0.01,
			RetryList:              []*float64{ptr(0.01), ptr(0.005), ptr(0.001), nil},
			ContentTypeAdjustments: scale(0.01),
		},
		"anthropic": {
			Default: 0.60, Min: 0.20, Max: 0.90, Step: 0.10,
			RetryList:              []*float64{ptr(0.6), ptr(0.4), ptr(0.2), ptr(0.1)},
			ContentTypeAdjustments: scale(0.10),
		},
		"openrouter": {
			Default: 0.70, Min: 0.30, Max: 0.95, Step: 0.10,
			RetryList:              []*float64{ptr(0.7), ptr(0.5), ptr(0.3), ptr(0.1)},
			ContentTypeAdjustments: scale(0.10),
		},
	}
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// Store is the slice of rdb.Store the threshold manager needs: append-only
// writes of performance logs and windowed reads for the recommendation
// engine.
type Store interface {
	InsertPerformanceLog(ctx context.Context, l *types.ThresholdPerformanceLog) error
	ListPerformanceLogs(ctx context.Context, botID types.ID, since time.Time) ([]types.ThresholdPerformanceLog, error)
}

// Manager implements the adaptive threshold manager (C2).
type Manager struct {
	configs  map[string]ProviderConfig
	store    Store
	log      logging.Logger
	lookback time.Duration
}

// NewManager constructs a Manager. configs defaults to
// DefaultProviderConfigs when nil, allowing a YAML-loaded override
// (SPEC_FULL §2.1) to be substituted wholesale.
func NewManager(configs map[string]ProviderConfig, store Store, log logging.Logger) *Manager {
	if configs == nil {
		configs = DefaultProviderConfigs()
	}
	if log == nil {
		log = logging.NewNoOpLogger()
	}
	return &Manager{configs: configs, store: store, log: log, lookback: 7 * 24 * time.Hour}
}

// ConfigFor returns the provider's threshold configuration, falling back
// to openai's seed values for an unknown provider.
func (m *Manager) ConfigFor(provider string) ProviderConfig {
	if c, ok := m.configs[provider]; ok {
		return c
	}
	return m.configs["openai"]
}

// ContentAdjustments holds the collection/query-shape signals used by
// OptimalThreshold (spec §4.2).
type ContentAdjustments struct {
	ContentType  string // "technical", "conversational", "code", "legal", or ""
	DocCount     int
	AvgDocLength int
}

// OptimalThreshold computes t = default + content_adjust + doc_count_adjust
// + doc_length_adjust, clamped to [min, max] (spec §4.2).
func (m *Manager) OptimalThreshold(provider string, adj ContentAdjustments) float64 {
	cfg := m.ConfigFor(provider)
	t := cfg.Default

	if delta, ok := cfg.ContentTypeAdjustments[adj.ContentType]; ok {
		t += delta
	}

	switch {
	case adj.DocCount > 1000:
		t += 0.05
	case adj.DocCount > 100:
		t += 0.02
	}

	switch {
	case adj.AvgDocLength > 5000:
		t -= 0.05
	case adj.AvgDocLength > 2000:
		t -= 0.02
	}

	return clamp(t, cfg.Min, cfg.Max)
}

// ValidationWarning reports whether an explicit threshold for provider is
// suspiciously high (gemini's working range is far below the generic
// 0.1-0.9 band other providers use).
func (m *Manager) ValidationWarning(provider string, explicit float64) string {
	if provider == "gemini" && explicit > 0.1 {
		return "gemini similarity scores are typically below 0.1; a threshold this high is unlikely to return results"
	}
	return ""
}

// RetryThresholds produces the ordered cascade of thresholds C3 tries. If
// initial is non-nil, the sequence is [t0, t0-step, t0-2*step, ...] down to
// min, with a final "no threshold" (nil) entry appended. Otherwise the
// provider's seed retry list is returned unchanged.
func (m *Manager) RetryThresholds(provider string, initial *float64) []*float64 {
	cfg := m.ConfigFor(provider)
	if initial == nil {
		out := make([]*float64, len(cfg.RetryList))
		copy(out, cfg.RetryList)
		return out
	}

	var out []*float64
	t := *initial
	for t >= cfg.Min {
		v := t
		out = append(out, &v)
		t -= cfg.Step
	}
	out = append(out, nil)
	return out
}

// HashQuery returns the sha256 hex digest of a query string, used as the
// ThresholdPerformanceLog.QueryHash field.
func HashQuery(query string) string {
	sum := sha256.Sum256([]byte(query))
	return hex.EncodeToString(sum[:])
}

// ScoreStats summarizes a set of similarity scores from one retrieval
// attempt.
type ScoreStats struct {
	Min, Avg, Max, StdDev float64
}

// ComputeScoreStats computes min/avg/max/stddev over a slice of scores.
func ComputeScoreStats(scores []float64) ScoreStats {
	if len(scores) == 0 {
		return ScoreStats{}
	}
	min, max, sum := scores[0], scores[0], 0.0
	for _, s := range scores {
		if s < min {
			min = s
		}
		if s > max {
			max = s
		}
		sum += s
	}
	avg := sum / float64(len(scores))

	var variance float64
	for _, s := range scores {
		d := s - avg
		variance += d * d
	}
	variance /= float64(len(scores))

	return ScoreStats{Min: min, Avg: avg, Max: max, StdDev: math.Sqrt(variance)}
}

// LogAttempt appends one performance log row (spec §4.2 "every retrieval
// attempt... emits a performance log row").
func (m *Manager) LogAttempt(ctx context.Context, l types.ThresholdPerformanceLog) error {
	if m.store == nil {
		return nil
	}
	if err := m.store.InsertPerformanceLog(ctx, &l); err != nil {
		m.log.Warn("threshold: failed to persist performance log", "bot_id", l.BotID.String(), "error", err.Error())
		return err
	}
	return nil
}

// Recommendation is one suggestion emitted by the recommendation engine.
type Recommendation struct {
	Provider           string
	CurrentThreshold   float64
	RecommendedThreshold float64
	Confidence         float64
	Reason             string
}

// Recommend mines the lookback window's performance logs for botID and
// emits threshold recommendations (spec §4.2). Requires at least 10
// samples in the window to emit a per-threshold recommendation; always
// evaluates the "too many zero-result queries" signal independently.
func (m *Manager) Recommend(ctx context.Context, botID types.ID, provider string) ([]Recommendation, error) {
	return m.recommend(ctx, botID, provider, m.lookback)
}

// RecommendWindow is Recommend with the lookback window overridden to the
// caller-supplied number of days, per spec's RecommendThresholds(bot_id,
// days) contract.
func (m *Manager) RecommendWindow(ctx context.Context, botID types.ID, provider string, days int) ([]Recommendation, error) {
	window := m.lookback
	if days > 0 {
		window = time.Duration(days) * 24 * time.Hour
	}
	return m.recommend(ctx, botID, provider, window)
}

func (m *Manager) recommend(ctx context.Context, botID types.ID, provider string, lookback time.Duration) ([]Recommendation, error) {
	if m.store == nil {
		return nil, nil
	}
	since := time.Now().Add(-lookback)
	logs, err := m.store.ListPerformanceLogs(ctx, botID, since)
	if err != nil {
		return nil, err
	}

	var recs []Recommendation
	cfg := m.ConfigFor(provider)

	if len(logs) >= 10 {
		type agg struct {
			count       int
			successes   int
			totalResults int
			totalScore  float64
			totalTime   float64
		}
		byThreshold := make(map[float64]*agg)
		for _, l := range logs {
			a, ok := byThreshold[l.ThresholdUsed]
			if !ok {
				a = &agg{}
				byThreshold[l.ThresholdUsed] = a
			}
			a.count++
			if l.Success {
				a.successes++
			}
			a.totalResults += l.ResultsFound
			a.totalScore += l.AvgScore
			a.totalTime += l.ProcessingTime.Seconds()
		}

		var bestThreshold float64
		bestScore := -1.0
		for threshold, a := range byThreshold {
			successRate := float64(a.successes) / float64(a.count)
			avgResults := float64(a.totalResults) / float64(a.count)
			avgScore := a.totalScore / float64(a.count)
			avgTime := a.totalTime / float64(a.count)

			score := 0.4*successRate + 0.3*math.Min(avgResults/5, 1) + 0.2*avgScore + 0.1*math.Max(0, 1-avgTime/5)
			if score > bestScore {
				bestScore = score
				bestThreshold = threshold
			}
		}

		if math.Abs(bestThreshold-cfg.Default) > 0.05 {
			recs = append(recs, Recommendation{
				Provider:             provider,
				CurrentThreshold:     cfg.Default,
				RecommendedThreshold: bestThreshold,
				Confidence:           math.Min(bestScore, 0.95),
				Reason:               "scored threshold outperforms current default",
			})
		}
	}

	zeroResults := 0
	for _, l := range logs {
		if l.ResultsFound == 0 {
			zeroResults++
		}
	}
	if len(logs) > 0 && float64(zeroResults)/float64(len(logs)) > 0.3 {
		recs = append(recs, Recommendation{
			Provider:             provider,
			CurrentThreshold:     cfg.Default,
			RecommendedThreshold: cfg.Min,
			Confidence:           0.7,
			Reason:               "over 30% of queries return zero results; lower the threshold",
		})
	}

	sort.Slice(recs, func(i, j int) bool { return recs[i].Confidence > recs[j].Confidence })
	return recs, nil
}
