// Package auth guards the synchronization endpoint and the operator tools.
// Form tokens live in memory and are invalidated on restart.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
	"sync"
	"time"
)

const (
	// APIKeyPrefix marks operator API keys so they can be told apart from
	// other bearer credentials.
	APIKeyPrefix = "ws_"

	// APIKeyMinLen is the minimum accepted API key length, prefix included.
	APIKeyMinLen = len(APIKeyPrefix) + 32

	// apiKeyBytes is the number of random bytes in a generated API key.
	apiKeyBytes = 32

	// formTokenBytes is the number of random bytes used to generate a form
	// token (hex-encoded to twice this length).
	formTokenBytes = 16

	// formTokenExpiry is how long a form token stays valid after its last
	// use. Every successful validation extends it.
	formTokenExpiry = 30 * time.Minute

	// cleanupInterval controls how often expired entries are reaped.
	cleanupInterval = 5 * time.Minute
)

// Store holds the issued anti-forgery form tokens and the configured API
// keys. API keys are kept as SHA-256 digests only.
type Store struct {
	mu         sync.RWMutex
	formTokens map[string]time.Time // token -> expiry
	apiKeys    map[[sha256.Size]byte]string
	stopGC     chan struct{}
	stopOnce   sync.Once
	now        func() time.Time
}

// NewStore creates an empty store and starts a background goroutine that
// periodically removes expired form tokens. Call Stop() to clean up the
// goroutine.
func NewStore() *Store {
	s := &Store{
		formTokens: make(map[string]time.Time),
		apiKeys:    make(map[[sha256.Size]byte]string),
		stopGC:     make(chan struct{}),
		now:        time.Now,
	}
	go s.gcLoop()

	return s
}

// Stop terminates the background cleanup goroutine. Safe to call twice.
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.stopGC) })
}

func (s *Store) gcLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopGC:
			return
		}
	}
}

// cleanup removes all expired form tokens.
func (s *Store) cleanup() {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, expiresAt := range s.formTokens {
		if now.After(expiresAt) {
			delete(s.formTokens, k)
		}
	}
}

// IssueFormToken creates and stores a new form token.
func (s *Store) IssueFormToken() string {
	token := RandomHex(formTokenBytes)

	s.mu.Lock()
	s.formTokens[token] = s.now().Add(formTokenExpiry)
	s.mu.Unlock()

	return token
}

// ValidFormToken reports whether token was issued by this store and has
// not expired. Tokens are reusable: a sync run posts the same token with
// every request, so a successful check slides the expiry forward.
func (s *Store) ValidFormToken(token string) bool {
	if token == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	expiresAt, ok := s.formTokens[token]
	if !ok {
		return false
	}

	now := s.now()
	if now.After(expiresAt) {
		delete(s.formTokens, token)
		return false
	}

	s.formTokens[token] = now.Add(formTokenExpiry)

	return true
}

// RegisterAPIKey associates an API key with a user. The plain key is not
// retained.
func (s *Store) RegisterAPIKey(userID, key string) {
	s.mu.Lock()
	s.apiKeys[sha256.Sum256([]byte(key))] = userID
	s.mu.Unlock()
}

// ValidateAPIKey returns the user owning key, or false when the key is
// unknown or malformed.
func (s *Store) ValidateAPIKey(key string) (string, bool) {
	if !strings.HasPrefix(key, APIKeyPrefix) || len(key) < APIKeyMinLen {
		return "", false
	}

	sum := sha256.Sum256([]byte(key))

	s.mu.RLock()
	defer s.mu.RUnlock()

	for digest, userID := range s.apiKeys {
		if subtle.ConstantTimeCompare(digest[:], sum[:]) == 1 {
			return userID, true
		}
	}

	return "", false
}

// NewAPIKey generates a fresh API key with the ws_ prefix.
func NewAPIKey() string {
	return APIKeyPrefix + RandomHex(apiKeyBytes)
}

// RandomHex generates a cryptographically random hex string of the given byte length.
func RandomHex(byteLen int) string {
	b := make([]byte, byteLen)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}

	return hex.EncodeToString(b)
}
