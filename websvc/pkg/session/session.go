package session

import (
	"context"
	"errors"
	"sync"

	"github.com/ichigozero/gtdkit/web/websvc"
	"github.com/ichigozero/gtdkit/web/websvc/pkg/apiservice"
)

// Store holds the AuthState of a single browser session. Signin and Signout
// are serialised; the state itself is replaced, never mutated.
type Store struct {
	api apiservice.Service

	op      sync.Mutex
	dropped bool

	mu    sync.RWMutex
	state websvc.AuthState
	subs  map[int]func(prev, next websvc.AuthState)
	subID int
}

func NewStore(api apiservice.Service) *Store {
	return &Store{
		api:  api,
		subs: make(map[int]func(prev, next websvc.AuthState)),
	}
}

// State returns a copy of the current state.
func (s *Store) State() websvc.AuthState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return clone(s.state)
}

// Subscribe registers fn to be called after every state transition.
func (s *Store) Subscribe(fn func(prev, next websvc.AuthState)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.subID
	s.subID++
	s.subs[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

// Signin logs in through the API exactly once. On failure the state is left
// untouched and the API error is returned as is. A login answered without an
// access token is a failure too.
func (s *Store) Signin(ctx context.Context, username, password string) (websvc.Tokens, error) {
	s.op.Lock()
	defer s.op.Unlock()

	return s.signin(ctx, username, password)
}

func (s *Store) signin(ctx context.Context, username, password string) (websvc.Tokens, error) {
	if s.dropped {
		return websvc.Tokens{}, errDropped
	}

	tokens, err := s.api.Login(ctx, username, password)
	if err != nil {
		return websvc.Tokens{}, err
	}
	if tokens.Access == "" {
		return websvc.Tokens{}, &websvc.Error{Kind: websvc.KindTransport, Message: websvc.ErrUnexpectedPayload.Error()}
	}

	tokens.ExpiresAt = accessExpiry(tokens.Access)
	s.set(websvc.AuthState{Tokens: &tokens})

	return tokens, nil
}

// Signout is a no-op without tokens. Otherwise it logs out remotely and then
// clears the tokens whatever the outcome; the remote error is only reported.
func (s *Store) Signout(ctx context.Context) error {
	s.op.Lock()
	defer s.op.Unlock()

	return s.signout(ctx)
}

func (s *Store) signout(ctx context.Context) error {
	current := s.State()
	if !current.Authenticated() {
		return nil
	}

	err := s.api.Logout(ctx, current.Tokens.Access)
	s.set(websvc.AuthState{})

	return err
}

func (s *Store) set(next websvc.AuthState) {
	s.mu.Lock()
	prev := s.state
	s.state = next

	subs := make([]func(prev, next websvc.AuthState), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(clone(prev), clone(next))
	}
}

func clone(s websvc.AuthState) websvc.AuthState {
	if s.Tokens == nil {
		return websvc.AuthState{}
	}
	t := *s.Tokens
	return websvc.AuthState{Tokens: &t}
}

var errDropped = errors.New("session store was dropped")

// Registry keeps one Store per session ID. Stores exist only while a session
// is signed in, so anonymous visitors cost nothing.
type Registry struct {
	api apiservice.Service

	mu     sync.Mutex
	stores map[string]*Store
	subs   map[int]func(sid string, prev, next websvc.AuthState)
	subID  int
}

func NewRegistry(api apiservice.Service) *Registry {
	return &Registry{
		api:    api,
		stores: make(map[string]*Store),
		subs:   make(map[int]func(sid string, prev, next websvc.AuthState)),
	}
}

// State returns the state of sid without creating a Store.
func (r *Registry) State(sid string) websvc.AuthState {
	st, ok := r.lookup(sid)
	if !ok {
		return websvc.AuthState{}
	}
	return st.State()
}

// Len reports the number of live stores.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.stores)
}

// Subscribe registers fn to be called after any session changes state.
func (r *Registry) Subscribe(fn func(sid string, prev, next websvc.AuthState)) (unsubscribe func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.subID
	r.subID++
	r.subs[id] = fn

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.subs, id)
	}
}

func (r *Registry) Signin(ctx context.Context, sid, username, password string) (websvc.Tokens, error) {
	if sid == "" {
		return websvc.Tokens{}, websvc.ErrSessionIDMissing
	}

	for {
		st := r.store(sid)

		st.op.Lock()
		tokens, err := st.signin(ctx, username, password)
		if !errors.Is(err, errDropped) {
			if err != nil && !st.State().Authenticated() {
				r.drop(sid, st)
			}
			st.op.Unlock()
			return tokens, err
		}
		st.op.Unlock()
	}
}

func (r *Registry) Signout(ctx context.Context, sid string) error {
	st, ok := r.lookup(sid)
	if !ok {
		return nil
	}

	st.op.Lock()
	defer st.op.Unlock()

	if st.dropped {
		return nil
	}

	err := st.signout(ctx)
	r.drop(sid, st)

	return err
}

func (r *Registry) lookup(sid string) (*Store, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.stores[sid]
	return st, ok
}

func (r *Registry) store(sid string) *Store {
	r.mu.Lock()
	defer r.mu.Unlock()

	if st, ok := r.stores[sid]; ok {
		return st
	}

	st := NewStore(r.api)
	st.Subscribe(func(prev, next websvc.AuthState) {
		r.notify(sid, prev, next)
	})
	r.stores[sid] = st

	return st
}

// drop must be called with st.op held.
func (r *Registry) drop(sid string, st *Store) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st.dropped = true
	if r.stores[sid] == st {
		delete(r.stores, sid)
	}
}

func (r *Registry) notify(sid string, prev, next websvc.AuthState) {
	r.mu.Lock()
	subs := make([]func(sid string, prev, next websvc.AuthState), 0, len(r.subs))
	for _, fn := range r.subs {
		subs = append(subs, fn)
	}
	r.mu.Unlock()

	for _, fn := range subs {
		fn(sid, prev, next)
	}
}
