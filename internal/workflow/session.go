package workflow

import (
	"errors"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

// DefaultSessionTTL is how long an idle session survives.
const DefaultSessionTTL = 60 * time.Minute

// ErrNoSession is returned when a key has no live session.
var ErrNoSession = errors.New("workflow: no active session")

// SessionKey builds the store key for one user in one channel.
func SessionKey(platform, channelID, userID string) string {
	return platform + ":" + channelID + ":" + userID
}

// Session is the transient state of one user's workflow.
type Session struct {
	Key      string
	Workflow string
	Step     string
	Data     map[string]any
	Updated  time.Time
}

// String returns the string stored under k, or "".
func (s *Session) String(k string) string {
	v, _ := s.Data[k].(string)
	return v
}

// StringPtr returns the string stored under k, or nil when unset or empty.
func (s *Session) StringPtr(k string) *string {
	v, ok := s.Data[k].(string)
	if !ok || v == "" {
		return nil
	}
	return &v
}

// Strings returns the list stored under k.
func (s *Session) Strings(k string) []string {
	v, _ := s.Data[k].([]string)
	return v
}

// Uint returns the id stored under k.
func (s *Session) Uint(k string) (uint, bool) {
	v, ok := s.Data[k].(uint)
	return v, ok
}

// Uints returns the id list stored under k.
func (s *Session) Uints(k string) []uint {
	v, _ := s.Data[k].([]uint)
	return v
}

// Int returns the integer stored under k.
func (s *Session) Int(k string) (int, bool) {
	v, ok := s.Data[k].(int)
	return v, ok
}

// Bool returns the flag stored under k.
func (s *Session) Bool(k string) bool {
	v, _ := s.Data[k].(bool)
	return v
}

func (s *Session) clone() *Session {
	c := *s
	c.Data = make(map[string]any, len(s.Data))
	for k, v := range s.Data {
		c.Data[k] = v
	}
	return &c
}

// Store holds sessions in memory with idle expiry. Every write refreshes the
// TTL. Callers receive copies, so a session only changes through the Store.
type Store struct {
	mu    sync.Mutex
	cache *cache.Cache
	ttl   time.Duration
}

// NewStore creates a Store whose sessions expire after ttl of inactivity.
func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Store{
		cache: cache.New(ttl, ttl/2),
		ttl:   ttl,
	}
}

// SetState starts (or restarts) a workflow for key. Any previous data is
// discarded.
func (s *Store) SetState(key, workflow, step string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Set(key, &Session{
		Key:      key,
		Workflow: workflow,
		Step:     step,
		Data:     map[string]any{},
		Updated:  now(),
	}, s.ttl)
}

// SetStep moves an existing session to step.
func (s *Store) SetStep(key, step string) error {
	return s.modify(key, func(sess *Session) { sess.Step = step })
}

// State returns the workflow and step of key.
func (s *Store) State(key string) (workflow, step string, ok bool) {
	sess, err := s.Get(key)
	if err != nil {
		return "", "", false
	}
	return sess.Workflow, sess.Step, true
}

// Update merges partial into the session data.
func (s *Store) Update(key string, partial map[string]any) error {
	return s.modify(key, func(sess *Session) {
		for k, v := range partial {
			sess.Data[k] = v
		}
	})
}

// Data returns a copy of the session data.
func (s *Store) Data(key string) (map[string]any, error) {
	sess, err := s.Get(key)
	if err != nil {
		return nil, err
	}
	return sess.Data, nil
}

// Get returns a copy of the session for key.
func (s *Store) Get(key string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.cache.Get(key)
	if !ok {
		return nil, ErrNoSession
	}
	return v.(*Session).clone(), nil
}

// Clear drops the session for key. It reports whether one existed.
func (s *Store) Clear(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.cache.Get(key)
	s.cache.Delete(key)
	return ok
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	return s.cache.ItemCount()
}

func (s *Store) modify(key string, fn func(*Session)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.cache.Get(key)
	if !ok {
		return ErrNoSession
	}
	sess := v.(*Session).clone()
	fn(sess)
	sess.Updated = now()
	s.cache.Set(key, sess, s.ttl)
	return nil
}
