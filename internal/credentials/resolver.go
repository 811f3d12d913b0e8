// Package credentials implements the credential resolver (C1): given a
// bot, a caller, and a provider, it produces a usable API key or a
// categorized, actionable composite error, adapted from the original
// implementation's UnifiedAPIKeyManager/APIKeyErrorHandler pair.
package credentials

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"ragcore/internal/errors"
	"ragcore/internal/logging"
	"ragcore/internal/ports"
	"ragcore/internal/providers"
	"ragcore/internal/retry"
	"ragcore/internal/types"
)

// Source identifies where a resolved key came from.
type Source string

const (
	SourceOwner      Source = "owner"
	SourceCaller     Source = "caller"
	SourceAlternative Source = "alternative"
)

// Resolution is the successful outcome of Resolve.
type Resolution struct {
	APIKey   string
	Provider string
	Source   Source
}

// Attempt records one resolution attempt for composite error reporting.
type Attempt struct {
	Provider string
	Source   Source
	Err      error
}

// ResolutionError is returned when every resolution path is exhausted; it
// carries every attempted source and a deduplicated remediation list.
type ResolutionError struct {
	BotID       types.ID
	CallerID    types.ID
	Provider    string
	Attempts    []Attempt
	Remediation []string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("credential resolution failed for provider %s after %d attempt(s)", e.Provider, len(e.Attempts))
}

// Options configures Resolve's behavior.
type Options struct {
	// Validate requests live validation of the resolved key before it is
	// returned (spec §4.1 step 1/2 "if validation is requested").
	Validate bool
}

// Resolver implements C1's resolution order, validation cache, and
// alternative-provider fallback.
type Resolver struct {
	store      ports.CredentialStore
	bots       ports.BotOwnerLookup
	clientFor  func(provider string) (Validator, error)
	cache      *validationCache
	log        logging.Logger
	retryCfg   *retry.Config
}

// Validator is the subset of a provider client Resolve needs for live
// validation; satisfied by *providers.Client.
type Validator interface {
	ValidateKey(ctx context.Context, apiKey string) (bool, error)
}

// NewResolver constructs a Resolver. clientFor builds (or looks up) the
// provider client used for live validation; callers typically pass a
// lookup into a map of already-constructed *providers.Client values.
func NewResolver(store ports.CredentialStore, bots ports.BotOwnerLookup, clientFor func(provider string) (Validator, error), log logging.Logger) *Resolver {
	if log == nil {
		log = logging.NewNoOpLogger()
	}
	return &Resolver{
		store:     store,
		bots:      bots,
		clientFor: clientFor,
		cache:     newValidationCache(15 * time.Minute),
		log:       log,
		retryCfg: &retry.Config{
			MaxAttempts:     4,
			InitialDelay:    time.Second,
			MaxDelay:        4 * time.Second,
			Multiplier:      2.0,
			RandomizeFactor: 0,
			RetryIf:         func(error) bool { return true },
		},
	}
}

// Resolve implements the full §4.1 resolution order: owner key, then
// caller key, then retry-without-validation, then alternative-provider
// mapping, then exponential-backoff retries; failing all of that it
// returns a *ResolutionError with every attempt and deduplicated
// remediation steps.
func (r *Resolver) Resolve(ctx context.Context, botID, callerID types.ID, provider string, opts Options) (*Resolution, error) {
	var attempts []Attempt

	if res, attempt, ok := r.tryOwnerThenCaller(ctx, botID, callerID, provider, opts.Validate); ok {
		return res, nil
	} else {
		attempts = append(attempts, attempt...)
	}

	// Retry without validation: a key may exist but live validation may be
	// transiently failing (network blip) rather than the key being bad.
	if opts.Validate {
		if res, attempt, ok := r.tryOwnerThenCaller(ctx, botID, callerID, provider, false); ok {
			return res, nil
		} else {
			attempts = append(attempts, attempt...)
		}
	}

	// Alternative-provider mapping.
	for _, alt := range providers.AlternativeProviders[provider] {
		if res, attempt, ok := r.tryOwnerThenCaller(ctx, botID, callerID, alt, opts.Validate); ok {
			res.Source = SourceAlternative
			return res, nil
		} else {
			attempts = append(attempts, attempt...)
		}
	}

	// Exponential-backoff retries (1s, 2s, 4s; at most 3 retries) against the
	// primary provider's owner/caller keys once more.
	retrier := retry.New(r.retryCfg)
	var finalRes *Resolution
	result := retrier.Do(ctx, func(ctx context.Context) error {
		res, attempt, ok := r.tryOwnerThenCaller(ctx, botID, callerID, provider, opts.Validate)
		if ok {
			finalRes = res
			return nil
		}
		attempts = append(attempts, attempt...)
		if len(attempt) > 0 {
			return attempt[len(attempt)-1].Err
		}
		return fmt.Errorf("no stored key for provider %s", provider)
	})
	if result.Err == nil && finalRes != nil {
		return finalRes, nil
	}

	return nil, &ResolutionError{
		BotID:       botID,
		CallerID:    callerID,
		Provider:    provider,
		Attempts:    attempts,
		Remediation: dedupeRemediation(attempts),
	}
}

// tryOwnerThenCaller attempts the owner key then the caller key for one
// provider, returning the first success. ok is false if neither path
// succeeded; attempt holds per-path failure detail for composite
// reporting.
func (r *Resolver) tryOwnerThenCaller(ctx context.Context, botID, callerID types.ID, provider string, validate bool) (*Resolution, []Attempt, bool) {
	var attempts []Attempt

	ownerID, err := r.bots.GetBotOwner(ctx, botID)
	if err != nil {
		attempts = append(attempts, Attempt{Provider: provider, Source: SourceOwner, Err: fmt.Errorf("resolve bot owner: %w", err)})
	} else {
		if res, attempt, ok := r.tryUser(ctx, ownerID, provider, SourceOwner, validate); ok {
			return res, nil, true
		} else if attempt != nil {
			attempts = append(attempts, *attempt)
		}
	}

	if res, attempt, ok := r.tryUser(ctx, callerID, provider, SourceCaller, validate); ok {
		return res, nil, true
	} else if attempt != nil {
		attempts = append(attempts, *attempt)
	}

	return nil, attempts, false
}

func (r *Resolver) tryUser(ctx context.Context, userID types.ID, provider string, source Source, validate bool) (*Resolution, *Attempt, bool) {
	key, found, err := r.store.GetUserAPIKey(ctx, userID, provider)
	if err != nil {
		return nil, &Attempt{Provider: provider, Source: source, Err: fmt.Errorf("lookup %s key: %w", source, err)}, false
	}
	if !found || key == "" {
		return nil, &Attempt{Provider: provider, Source: source, Err: notFoundErr(provider)}, false
	}

	if !validate {
		return &Resolution{APIKey: key, Provider: provider, Source: source}, nil, true
	}

	ok, err := r.validate(ctx, provider, key)
	if err != nil {
		return nil, &Attempt{Provider: provider, Source: source, Err: err}, false
	}
	if !ok {
		return nil, &Attempt{Provider: provider, Source: source, Err: invalidErr(provider)}, false
	}
	return &Resolution{APIKey: key, Provider: provider, Source: source}, nil, true
}

func notFoundErr(provider string) error {
	return errors.NewAPIKeyError(errors.ErrorCodeAPIKeyNotFound, provider, fmt.Sprintf("no %s API key configured", provider), remediationFor(errors.ErrorCodeAPIKeyNotFound, provider))
}

func invalidErr(provider string) error {
	return errors.NewAPIKeyError(errors.ErrorCodeAPIKeyInvalid, provider, fmt.Sprintf("%s API key failed validation", provider), remediationFor(errors.ErrorCodeAPIKeyInvalid, provider))
}

func dedupeRemediation(attempts []Attempt) []string {
	seen := make(map[string]bool)
	var out []string
	for _, a := range attempts {
		se, ok := a.Err.(*errors.StandardError)
		if !ok {
			continue
		}
		for _, step := range se.ErrorInfo.RemediationSteps {
			if !seen[step] {
				seen[step] = true
				out = append(out, step)
			}
		}
	}
	return out
}

// validationCacheKey builds the §4.1 cache key: provider:sha256(key)[:8].
func validationCacheKey(provider, apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return provider + ":" + hex.EncodeToString(sum[:])[:8]
}

func lowerContains(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), needle)
}
