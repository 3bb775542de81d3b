package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/ichigozero/gtdkit/web/websvc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	mu sync.Mutex

	tokens    websvc.Tokens
	loginErr  error
	logoutErr error

	logins  int
	logouts []string
}

func (f *fakeAPI) Login(_ context.Context, username, password string) (websvc.Tokens, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.logins++
	if f.loginErr != nil {
		return websvc.Tokens{}, f.loginErr
	}
	return f.tokens, nil
}

func (f *fakeAPI) Logout(_ context.Context, accessToken string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.logouts = append(f.logouts, accessToken)
	return f.logoutErr
}

func (f *fakeAPI) Tasks(context.Context, string) ([]websvc.Task, error) {
	return nil, nil
}

func TestStoreSignin(t *testing.T) {
	api := &fakeAPI{tokens: websvc.Tokens{Access: "A", Refresh: "R"}}
	store := NewStore(api)

	var transitions []websvc.AuthState
	store.Subscribe(func(prev, next websvc.AuthState) {
		assert.False(t, prev.Authenticated())
		transitions = append(transitions, next)
	})

	require.False(t, store.State().Authenticated())

	tokens, err := store.Signin(context.Background(), "alice", "correct")
	require.NoError(t, err)
	assert.Equal(t, "A", tokens.Access)
	assert.Equal(t, "R", tokens.Refresh)

	state := store.State()
	require.True(t, state.Authenticated())
	assert.Equal(t, "A", state.Tokens.Access)
	assert.Equal(t, 1, api.logins)
	require.Len(t, transitions, 1)
	assert.Equal(t, "A", transitions[0].Tokens.Access)
}

func TestStoreSigninFailure(t *testing.T) {
	apiErr := &websvc.Error{Kind: websvc.KindAPI, Message: "user not found"}
	api := &fakeAPI{loginErr: apiErr}
	store := NewStore(api)

	var notified bool
	store.Subscribe(func(_, _ websvc.AuthState) { notified = true })

	_, err := store.Signin(context.Background(), "alice", "wrong")
	assert.Same(t, apiErr, err)
	assert.False(t, store.State().Authenticated())
	assert.False(t, notified)
}

func TestStoreSigninWithoutAccessToken(t *testing.T) {
	store := NewStore(&fakeAPI{tokens: websvc.Tokens{Refresh: "R"}})

	var notified bool
	store.Subscribe(func(_, _ websvc.AuthState) { notified = true })

	_, err := store.Signin(context.Background(), "alice", "correct")
	require.Error(t, err)

	var e *websvc.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, websvc.KindTransport, e.Kind)
	assert.Equal(t, websvc.ErrUnexpectedPayload.Error(), e.Message)
	assert.False(t, store.State().Authenticated())
	assert.False(t, notified)
}

func TestRegistryEmptyLoginLeavesNothingBehind(t *testing.T) {
	registry := NewRegistry(&fakeAPI{})

	_, err := registry.Signin(context.Background(), "s1", "alice", "correct")
	require.Error(t, err)
	assert.False(t, registry.State("s1").Authenticated())
	assert.Zero(t, registry.Len())
}

func TestStoreStateIsACopy(t *testing.T) {
	store := NewStore(&fakeAPI{tokens: websvc.Tokens{Access: "A", Refresh: "R"}})

	_, err := store.Signin(context.Background(), "alice", "correct")
	require.NoError(t, err)

	state := store.State()
	state.Tokens.Access = "tampered"

	assert.Equal(t, "A", store.State().Tokens.Access)
}

func TestStoreSignoutWithoutTokens(t *testing.T) {
	api := &fakeAPI{}
	store := NewStore(api)

	require.NoError(t, store.Signout(context.Background()))
	assert.Empty(t, api.logouts)
}

func TestStoreSignout(t *testing.T) {
	api := &fakeAPI{tokens: websvc.Tokens{Access: "A", Refresh: "R"}}
	store := NewStore(api)

	_, err := store.Signin(context.Background(), "alice", "correct")
	require.NoError(t, err)

	require.NoError(t, store.Signout(context.Background()))
	assert.Equal(t, []string{"A"}, api.logouts)
	assert.False(t, store.State().Authenticated())
}

func TestStoreSignoutClearsOnRemoteFailure(t *testing.T) {
	logoutErr := &websvc.Error{Kind: websvc.KindTransport, Message: "connection refused"}
	api := &fakeAPI{tokens: websvc.Tokens{Access: "A", Refresh: "R"}, logoutErr: logoutErr}
	store := NewStore(api)

	_, err := store.Signin(context.Background(), "alice", "correct")
	require.NoError(t, err)

	var last websvc.AuthState
	store.Subscribe(func(_, next websvc.AuthState) { last = next })

	err = store.Signout(context.Background())
	assert.Same(t, logoutErr, err)
	assert.False(t, store.State().Authenticated())
	assert.False(t, last.Authenticated())
}

func TestStoreUnsubscribe(t *testing.T) {
	store := NewStore(&fakeAPI{tokens: websvc.Tokens{Access: "A"}})

	var calls int
	unsubscribe := store.Subscribe(func(_, _ websvc.AuthState) { calls++ })
	unsubscribe()

	_, err := store.Signin(context.Background(), "alice", "correct")
	require.NoError(t, err)
	assert.Zero(t, calls)
}

func TestRegistryLifecycle(t *testing.T) {
	api := &fakeAPI{tokens: websvc.Tokens{Access: "A", Refresh: "R"}}
	registry := NewRegistry(api)

	type transition struct {
		sid  string
		next bool
	}
	var seen []transition
	registry.Subscribe(func(sid string, _, next websvc.AuthState) {
		seen = append(seen, transition{sid, next.Authenticated()})
	})

	assert.False(t, registry.State("s1").Authenticated())
	assert.Zero(t, registry.Len())

	_, err := registry.Signin(context.Background(), "s1", "alice", "correct")
	require.NoError(t, err)
	assert.True(t, registry.State("s1").Authenticated())
	assert.False(t, registry.State("s2").Authenticated())
	assert.Equal(t, 1, registry.Len())

	require.NoError(t, registry.Signout(context.Background(), "s1"))
	assert.False(t, registry.State("s1").Authenticated())
	assert.Zero(t, registry.Len())
	assert.Equal(t, []string{"A"}, api.logouts)

	assert.Equal(t, []transition{{"s1", true}, {"s1", false}}, seen)
}

func TestRegistrySignoutUnknownSession(t *testing.T) {
	api := &fakeAPI{}
	registry := NewRegistry(api)

	require.NoError(t, registry.Signout(context.Background(), "nobody"))
	assert.Empty(t, api.logouts)
}

func TestRegistryFailedSigninLeavesNothingBehind(t *testing.T) {
	api := &fakeAPI{loginErr: &websvc.Error{Kind: websvc.KindAPI, Message: "user not found"}}
	registry := NewRegistry(api)

	_, err := registry.Signin(context.Background(), "s1", "alice", "wrong")
	require.Error(t, err)
	assert.Equal(t, "user not found", err.Error())
	assert.Zero(t, registry.Len())
}

func TestRegistryFailedSigninKeepsExistingTokens(t *testing.T) {
	api := &fakeAPI{tokens: websvc.Tokens{Access: "A", Refresh: "R"}}
	registry := NewRegistry(api)

	_, err := registry.Signin(context.Background(), "s1", "alice", "correct")
	require.NoError(t, err)

	api.loginErr = &websvc.Error{Kind: websvc.KindAPI, Message: "user not found"}
	_, err = registry.Signin(context.Background(), "s1", "alice", "wrong")
	require.Error(t, err)

	assert.Equal(t, "A", registry.State("s1").Tokens.Access)
}

func TestRegistrySigninRequiresSessionID(t *testing.T) {
	registry := NewRegistry(&fakeAPI{})

	_, err := registry.Signin(context.Background(), "", "alice", "correct")
	assert.Equal(t, websvc.ErrSessionIDMissing, err)
}

func TestRegistryConcurrentSessions(t *testing.T) {
	api := &fakeAPI{tokens: websvc.Tokens{Access: "A", Refresh: "R"}}
	registry := NewRegistry(api)

	var wg sync.WaitGroup
	for _, sid := range []string{"s1", "s2", "s3", "s4"} {
		wg.Add(1)
		go func(sid string) {
			defer wg.Done()
			_, err := registry.Signin(context.Background(), sid, "alice", "correct")
			assert.NoError(t, err)
			assert.NoError(t, registry.Signout(context.Background(), sid))
		}(sid)
	}
	wg.Wait()

	assert.Zero(t, registry.Len())
	assert.Equal(t, 4, api.logins)
	assert.Len(t, api.logouts, 4)
}

func TestAccessExpiry(t *testing.T) {
	exp := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"uuid":    "id",
		"user_id": 1,
		"exp":     exp.Unix(),
	}).SignedString([]byte("access-secret"))
	require.NoError(t, err)

	assert.Equal(t, exp, accessExpiry(signed))
	assert.True(t, accessExpiry("A").IsZero())
}
