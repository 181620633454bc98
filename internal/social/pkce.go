package social

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"math/big"
)

const (
	stateAlphabet    = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"
	verifierAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz-._~"
	pkceLength       = 43
)

// PKCE 一組 OAuth2 PKCE 參數
type PKCE struct {
	State     string
	Verifier  string
	Challenge string
}

// NewPKCE 產生 state、verifier 與 S256 challenge
func NewPKCE() (PKCE, error) {
	state, err := randomString(stateAlphabet, pkceLength)
	if err != nil {
		return PKCE{}, err
	}
	verifier, err := randomString(verifierAlphabet, pkceLength)
	if err != nil {
		return PKCE{}, err
	}
	return PKCE{State: state, Verifier: verifier, Challenge: Challenge(verifier)}, nil
}

// Challenge base64url(sha256(verifier))，不含 padding
func Challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func randomString(alphabet string, n int) (string, error) {
	out := make([]byte, n)
	max := big.NewInt(int64(len(alphabet)))
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to read random bytes: %w", err)
		}
		out[i] = alphabet[idx.Int64()]
	}
	return string(out), nil
}
