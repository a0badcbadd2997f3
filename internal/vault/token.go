package vault

import (
	"encoding/json"
	"fmt"
	"time"
)

// Token is the typed form of a vault entry: an opaque bearer value plus
// its expiration and identifying metadata. Parsing bytes retrieved
// from the vault into a Token is a caller responsibility.
type Token struct {
	Value     string    `json:"value"`
	Login     string    `json:"login"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IsExpired reports whether the token's expiration has passed.
func (t *Token) IsExpired() bool {
	return !t.ExpiresAt.IsZero() && time.Now().After(t.ExpiresAt)
}

// Marshal serialises a Token for storage.
func (t *Token) Marshal() ([]byte, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("vault: marshal token: %w", err)
	}
	return data, nil
}

// ParseToken decodes bytes retrieved from the vault into a Token.
func ParseToken(data []byte) (*Token, error) {
	var t Token
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("vault: parse token: %w", err)
	}
	return &t, nil
}

// StoreToken is a convenience wrapper that marshals and stores tok
// under name in one call.
func (v *Vault) StoreToken(name string, tok *Token) error {
	data, err := tok.Marshal()
	if err != nil {
		return err
	}
	return v.Store(name, data)
}

// RetrieveToken retrieves and parses the token stored under name. If
// the stored token is expired, it is purged and ErrNotFound is
// returned so the caller proceeds as if no token existed.
func (v *Vault) RetrieveToken(name string) (*Token, error) {
	data, err := v.Retrieve(name)
	if err != nil {
		return nil, err
	}
	tok, err := ParseToken(data)
	if err != nil {
		return nil, err
	}
	if tok.IsExpired() {
		v.PurgeIfExpired(name, tok)
		return nil, ErrNotFound
	}
	return tok, nil
}
