package credentials

import (
	"context"
	"sync"
	"time"

	"ragcore/internal/errors"
)

// keyedLocks gives concurrent validations of the same (provider, key) a
// single in-flight winner; everyone else blocks until it finishes and
// then reads the now-populated cache (§4.1 "coalesce on the cache
// lookup").
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedLocks) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &sync.Mutex{}
		k.locks[key] = l
	}
	k.mu.Unlock()

	l.Lock()
	return l.Unlock
}

var inFlight keyedLocks

// validate performs cache-checked live key validation with a 10s deadline
// and at most 2 attempts with progressive backoff (§4.1).
func (r *Resolver) validate(ctx context.Context, provider, apiKey string) (bool, error) {
	cacheKey := validationCacheKey(provider, apiKey)

	if valid, ok := r.cache.get(cacheKey, time.Now()); ok {
		return valid, nil
	}

	unlock := inFlight.lock(cacheKey)
	defer unlock()

	if valid, ok := r.cache.get(cacheKey, time.Now()); ok {
		return valid, nil
	}

	client, err := r.clientFor(provider)
	if err != nil {
		return false, errors.NewAPIKeyError(errors.ErrorCodeAPIKeyNetworkError, provider, err.Error(), remediationFor(errors.ErrorCodeAPIKeyNetworkError, provider))
	}

	valCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var (
		valid   bool
		lastErr error
	)
	delay := 500 * time.Millisecond
attemptLoop:
	for attempt := 1; attempt <= 2; attempt++ {
		valid, lastErr = client.ValidateKey(valCtx, apiKey)
		if lastErr == nil {
			break
		}
		if attempt < 2 {
			select {
			case <-time.After(delay):
				delay *= 2
			case <-valCtx.Done():
				lastErr = valCtx.Err()
				break attemptLoop
			}
		}
	}

	if lastErr != nil {
		se := categorizeValidationError(provider, lastErr)
		r.cache.set(cacheKey, provider, false, time.Now())
		return false, se
	}

	r.cache.set(cacheKey, provider, valid, time.Now())
	if !valid {
		return false, invalidErr(provider)
	}
	return true, nil
}
