package credentials

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragcore/internal/types"
)

type fakeStore struct {
	keys map[string]string // userID:provider -> key
	err  error
}

func (f *fakeStore) GetUserAPIKey(ctx context.Context, userID types.ID, provider string) (string, bool, error) {
	if f.err != nil {
		return "", false, f.err
	}
	key, ok := f.keys[userID.String()+":"+provider]
	return key, ok, nil
}

type fakeBots struct {
	owner types.ID
	err   error
}

func (f *fakeBots) GetBotOwner(ctx context.Context, botID types.ID) (types.ID, error) {
	if f.err != nil {
		return types.NilID, f.err
	}
	return f.owner, nil
}

type fakeValidator struct {
	valid bool
	err   error
}

func (f *fakeValidator) ValidateKey(ctx context.Context, apiKey string) (bool, error) {
	return f.valid, f.err
}

func clientForFunc(v *fakeValidator) func(string) (Validator, error) {
	return func(provider string) (Validator, error) {
		return v, nil
	}
}

func TestResolveOwnerKeyWithoutValidation(t *testing.T) {
	owner := types.NewID()
	caller := types.NewID()
	store := &fakeStore{keys: map[string]string{owner.String() + ":openai": "owner-key"}}
	bots := &fakeBots{owner: owner}

	r := NewResolver(store, bots, clientForFunc(&fakeValidator{valid: true}), nil)
	res, err := r.Resolve(context.Background(), types.NewID(), caller, "openai", Options{})
	require.NoError(t, err)
	assert.Equal(t, "owner-key", res.APIKey)
	assert.Equal(t, SourceOwner, res.Source)
}

func TestResolveFallsBackToCallerKey(t *testing.T) {
	owner := types.NewID()
	caller := types.NewID()
	store := &fakeStore{keys: map[string]string{caller.String() + ":openai": "caller-key"}}
	bots := &fakeBots{owner: owner}

	r := NewResolver(store, bots, clientForFunc(&fakeValidator{valid: true}), nil)
	res, err := r.Resolve(context.Background(), types.NewID(), caller, "openai", Options{})
	require.NoError(t, err)
	assert.Equal(t, "caller-key", res.APIKey)
	assert.Equal(t, SourceCaller, res.Source)
}

func TestResolveValidatesWhenRequested(t *testing.T) {
	owner := types.NewID()
	store := &fakeStore{keys: map[string]string{owner.String() + ":openai": "owner-key"}}
	bots := &fakeBots{owner: owner}

	r := NewResolver(store, bots, clientForFunc(&fakeValidator{valid: true}), nil)
	res, err := r.Resolve(context.Background(), types.NewID(), types.NewID(), "openai", Options{Validate: true})
	require.NoError(t, err)
	assert.Equal(t, "owner-key", res.APIKey)

	// cached: a second resolve with a now-failing validator still succeeds
	r.clientFor = clientForFunc(&fakeValidator{valid: false})
	res, err = r.Resolve(context.Background(), types.NewID(), types.NewID(), "openai", Options{Validate: true})
	require.NoError(t, err)
	assert.Equal(t, "owner-key", res.APIKey)
}

func TestResolveFallsBackToAlternativeProvider(t *testing.T) {
	owner := types.NewID()
	store := &fakeStore{keys: map[string]string{owner.String() + ":gemini": "gemini-key"}}
	bots := &fakeBots{owner: owner}

	r := NewResolver(store, bots, clientForFunc(&fakeValidator{valid: true}), nil)
	res, err := r.Resolve(context.Background(), types.NewID(), types.NewID(), "openai", Options{})
	require.NoError(t, err)
	assert.Equal(t, SourceAlternative, res.Source)
	assert.Equal(t, "gemini-key", res.APIKey)
}

func TestResolveReturnsCompositeErrorWhenNoKeyExists(t *testing.T) {
	store := &fakeStore{keys: map[string]string{}}
	bots := &fakeBots{owner: types.NewID()}

	r := NewResolver(store, bots, clientForFunc(&fakeValidator{valid: true}), nil)
	_, err := r.Resolve(context.Background(), types.NewID(), types.NewID(), "openai", Options{})
	require.Error(t, err)

	var resErr *ResolutionError
	require.ErrorAs(t, err, &resErr)
	assert.Equal(t, "openai", resErr.Provider)
	assert.NotEmpty(t, resErr.Attempts)
}

func TestResolvePropagatesStoreError(t *testing.T) {
	store := &fakeStore{err: errors.New("db unavailable")}
	bots := &fakeBots{owner: types.NewID()}

	r := NewResolver(store, bots, clientForFunc(&fakeValidator{valid: true}), nil)
	_, err := r.Resolve(context.Background(), types.NewID(), types.NewID(), "openai", Options{})
	require.Error(t, err)
}
