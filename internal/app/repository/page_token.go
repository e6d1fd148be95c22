package repository

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"

	"github.com/sifan077/shortlinkd/internal/kv"
)

// ErrInvalidPageToken signals a page token that is malformed, tampered with
// or issued for another owner.
var ErrInvalidPageToken = errors.New("invalid page token")

const signatureSize = 16

// PageTokenCodec turns store cursors into opaque page tokens. With a secret
// the tokens carry a truncated HMAC bound to the owner; without one they are
// plain base64url JSON. A nil codec behaves like one without a secret.
type PageTokenCodec struct {
	secret []byte
}

// NewPageTokenCodec returns a codec signing with secret (may be empty).
func NewPageTokenCodec(secret []byte) *PageTokenCodec {
	return &PageTokenCodec{secret: secret}
}

func (c *PageTokenCodec) key() []byte {
	if c == nil {
		return nil
	}
	return c.secret
}

// Encode returns the token for key. A nil key yields an empty token.
func (c *PageTokenCodec) Encode(owner string, key *kv.Key) (string, error) {
	if key == nil {
		return "", nil
	}
	payload, err := json.Marshal(key)
	if err != nil {
		return "", err
	}
	token := base64.RawURLEncoding.EncodeToString(payload)
	if secret := c.key(); len(secret) > 0 {
		sig := sign(secret, owner, payload)
		token += "." + base64.RawURLEncoding.EncodeToString(sig[:signatureSize])
	}
	return token, nil
}

// Decode parses token. An empty token yields a nil key.
func (c *PageTokenCodec) Decode(owner, token string) (*kv.Key, error) {
	if token == "" {
		return nil, nil
	}

	payloadEnc, sigEnc, signed := strings.Cut(token, ".")
	payload, err := base64.RawURLEncoding.DecodeString(payloadEnc)
	if err != nil {
		return nil, ErrInvalidPageToken
	}

	if secret := c.key(); len(secret) > 0 {
		if !signed {
			return nil, ErrInvalidPageToken
		}
		sigProvided, err := base64.RawURLEncoding.DecodeString(sigEnc)
		if err != nil || len(sigProvided) != signatureSize {
			return nil, ErrInvalidPageToken
		}
		expected := sign(secret, owner, payload)
		if !hmac.Equal(sigProvided, expected[:signatureSize]) {
			return nil, ErrInvalidPageToken
		}
	} else if signed {
		return nil, ErrInvalidPageToken
	}

	var key kv.Key
	if err := json.Unmarshal(payload, &key); err != nil {
		return nil, ErrInvalidPageToken
	}
	if key.PK == "" || key.SK == "" {
		return nil, ErrInvalidPageToken
	}
	return &key, nil
}

func sign(secret []byte, owner string, payload []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(owner))
	mac.Write([]byte("|"))
	mac.Write(payload)
	return mac.Sum(nil)
}
