// Package auth implements spec §6/§9's token-based auth: a
// process-wide table mapping opaque tokens to the set of plugin
// identifiers each token may attach to, guarded by a dedicated mutex
// per spec §5 ("The token and plugin-permission tables... guarded by
// a dedicated mutex"), plus HMAC signature validation for tokens that
// carry a signed payload.
//
// Grounded on the teacher's pkg/auth issuer/verifier split in shape
// only (issuer signs, verifier checks) — the mechanism itself is
// stdlib HMAC rather than JWT, since no pack library implements a flat
// shared-secret token table and introducing a JWT dependency would
// misrepresent the simpler mechanism spec §6/§9 actually describes.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

var (
	// ErrUnknownToken is returned when a token has no registered
	// permission set.
	ErrUnknownToken = errors.New("auth: unknown token")
)

// Store is the process-wide token→plugin-permission-set table, per
// spec §5's "token and plugin-permission tables" paragraph.
type Store struct {
	mu      sync.RWMutex
	enabled bool
	secret  []byte
	tokens  map[string]map[string]struct{}
}

// NewStore builds a Store. enabled mirrors auth.token_auth; secret
// mirrors auth.token_secret (spec §6's INI key list).
func NewStore(enabled bool, secret string) *Store {
	return &Store{
		enabled: enabled,
		secret:  []byte(secret),
		tokens:  make(map[string]map[string]struct{}),
	}
}

// Enabled reports whether token auth is active; callers should skip
// validation entirely when it is not, per spec §6's auth.token_auth
// flag.
func (s *Store) Enabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.enabled
}

// AddToken registers a token with the plugins it may attach to. An
// empty plugins list means "any plugin", matching Janus-style
// wide-open tokens.
func (s *Store) AddToken(token string, plugins ...string) {
	set := make(map[string]struct{}, len(plugins))
	for _, p := range plugins {
		set[p] = struct{}{}
	}
	s.mu.Lock()
	s.tokens[token] = set
	s.mu.Unlock()
}

// RemoveToken revokes a token.
func (s *Store) RemoveToken(token string) {
	s.mu.Lock()
	delete(s.tokens, token)
	s.mu.Unlock()
}

// Sign produces an HMAC-SHA256-signed token of the form
// "payload.signature", the format IsSignatureValid expects.
func (s *Store) Sign(payload string) string {
	return payload + "." + s.signatureFor(payload)
}

func (s *Store) signatureFor(payload string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// IsSignatureValid implements spec §6/§9's is_signature_valid helper:
// a token is well-formed as "payload.hexhmac" and its signature
// matches the configured secret.
func (s *Store) IsSignatureValid(token string) bool {
	payload, sig, ok := strings.Cut(token, ".")
	if !ok {
		return false
	}
	s.mu.RLock()
	want := s.signatureFor(payload)
	s.mu.RUnlock()
	return subtle.ConstantTimeCompare([]byte(want), []byte(sig)) == 1
}

// SignatureContains implements spec §6/§9's signature_contains helper:
// whether a registered token's permission set names pluginName. An
// empty permission set (registered with no plugins) permits every
// plugin.
func (s *Store) SignatureContains(token string, pluginName string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set, ok := s.tokens[token]
	if !ok {
		return false, ErrUnknownToken
	}
	if len(set) == 0 {
		return true, nil
	}
	_, allowed := set[pluginName]
	return allowed, nil
}
