package keyring

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"nakula/pkg/core"
)

// KeyRing hands out API keys for signed statement queries and rotates them
// when the venue throttles or rejects the key in use.
type KeyRing struct {
	mu       sync.RWMutex
	keys     []*APIKey
	current  int
	strategy RotationStrategy
	logger   zerolog.Logger
}

type APIKey struct {
	ID         string
	Key        string
	Secret     string
	Passphrase string
	Disabled   bool
	LastUsed   time.Time
	ErrorCount int
}

type RotationStrategy int

const (
	// RotationRoundRobin moves to the next key after every acquisition.
	RotationRoundRobin RotationStrategy = iota
	// RotationOnError moves to the next key after any failed request.
	RotationOnError
	// RotationOnRateLimit moves to the next key only when the venue throttles the current one.
	RotationOnRateLimit
)

func (s RotationStrategy) String() string {
	return [...]string{"ROUND_ROBIN", "ON_ERROR", "ON_RATE_LIMIT"}[s]
}

func NewKeyRing(keys []*APIKey, strategy RotationStrategy) *KeyRing {
	keysCopy := make([]*APIKey, len(keys))
	for i, k := range keys {
		c := *k
		keysCopy[i] = &c
	}

	return &KeyRing{
		keys:     keysCopy,
		strategy: strategy,
		logger:   zerolog.Nop(),
	}
}

// FromCredentials builds a ring from plain credentials, naming keys key-1, key-2, ...
func FromCredentials(strategy RotationStrategy, creds ...core.Credentials) *KeyRing {
	keys := make([]*APIKey, len(creds))
	for i, c := range creds {
		keys[i] = &APIKey{
			ID:         fmt.Sprintf("key-%d", i+1),
			Key:        c.APIKey,
			Secret:     c.SecretKey,
			Passphrase: c.Passphrase,
		}
	}
	return NewKeyRing(keys, strategy)
}

// SetLogger replaces the ring's logger.
func (k *KeyRing) SetLogger(l zerolog.Logger) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.logger = l
}

// Current returns the key in use, or nil when every key is disabled.
func (k *KeyRing) Current() *APIKey {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if idx, ok := k.enabledFrom(k.current); ok {
		c := *k.keys[idx]
		return &c
	}
	return nil
}

// Acquire returns the credentials to sign the next request with and marks the key used.
// It fails with core.ErrNoAPIKey when no enabled key is left.
func (k *KeyRing) Acquire() (core.Credentials, string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	idx, ok := k.enabledFrom(k.current)
	if !ok {
		return core.Credentials{}, "", core.ErrNoAPIKey
	}
	k.current = idx

	key := k.keys[idx]
	key.LastUsed = time.Now()
	creds := core.Credentials{APIKey: key.Key, SecretKey: key.Secret, Passphrase: key.Passphrase}

	if k.strategy == RotationRoundRobin {
		k.rotateLocked()
	}
	return creds, key.ID, nil
}

func (k *KeyRing) enabledFrom(start int) (int, bool) {
	for i := range k.keys {
		idx := (start + i) % len(k.keys)
		if !k.keys[idx].Disabled {
			return idx, true
		}
	}
	return 0, false
}

func (k *KeyRing) Rotate() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.rotateLocked()
}

func (k *KeyRing) rotateLocked() {
	if len(k.keys) == 0 {
		return
	}
	if idx, ok := k.enabledFrom(k.current + 1); ok {
		k.current = idx
	}
}

// OnError records a failed request made with key id. Authentication failures disable the key;
// other errors rotate according to the ring's strategy.
func (k *KeyRing) OnError(id string, err error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	key := k.find(id)
	if key == nil {
		return
	}
	key.ErrorCount++

	switch {
	case core.IsAuthenticationError(err):
		key.Disabled = true
		k.logger.Warn().Str("key", key.String()).Err(err).Msg("api key rejected, disabling")
		k.rotateLocked()
	case k.strategy == RotationOnError,
		k.strategy == RotationOnRateLimit && core.IsRateLimitError(err):
		k.logger.Debug().Str("key", key.String()).Stringer("strategy", k.strategy).Msg("rotating api key")
		k.rotateLocked()
	}
}

func (k *KeyRing) find(id string) *APIKey {
	for _, key := range k.keys {
		if key.ID == id {
			return key
		}
	}
	return nil
}

func (k *KeyRing) Disable(id string) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if key := k.find(id); key != nil {
		key.Disabled = true
	}
}

func (k *KeyRing) Enable(id string) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if key := k.find(id); key != nil {
		key.Disabled = false
		key.ErrorCount = 0
	}
}

func (k *KeyRing) Add(key *APIKey) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.find(key.ID) != nil {
		return
	}
	k.keys = append(k.keys, &APIKey{
		ID:         key.ID,
		Key:        key.Key,
		Secret:     key.Secret,
		Passphrase: key.Passphrase,
	})
}

func (k *KeyRing) Remove(id string) {
	k.mu.Lock()
	defer k.mu.Unlock()

	for i, key := range k.keys {
		if key.ID == id {
			k.keys = append(k.keys[:i], k.keys[i+1:]...)
			if k.current >= len(k.keys) {
				k.current = 0
			}
			return
		}
	}
}

// Available returns the number of enabled keys.
func (k *KeyRing) Available() int {
	k.mu.RLock()
	defer k.mu.RUnlock()

	n := 0
	for _, key := range k.keys {
		if !key.Disabled {
			n++
		}
	}
	return n
}

func (k *APIKey) String() string {
	return fmt.Sprintf("APIKey{ID:%s, Key:%s}", k.ID, maskKey(k.Key))
}

func maskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****" + key[len(key)-4:]
}
