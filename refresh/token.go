package refresh

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"

	"github.com/google/uuid"

	"github.com/MrEthical07/campusauth/internal"
)

// maxEncodedLen bounds the work done on attacker-supplied cookies.
const maxEncodedLen = 512

var ErrMalformed = errors.New("malformed refresh token")

// Token is the client-held refresh credential.
type Token struct {
	SessionID string
	Secret    internal.RefreshSecret
}

type wireToken struct {
	SID string `json:"sid"`
	RT  string `json:"rt"`
}

// Encode renders the token as base64url JSON {"sid","rt"}.
func Encode(t Token) (string, error) {
	if _, err := uuid.Parse(t.SessionID); err != nil {
		return "", ErrMalformed
	}
	raw, err := json.Marshal(wireToken{
		SID: t.SessionID,
		RT:  base64.RawURLEncoding.EncodeToString(t.Secret[:]),
	})
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// Decode parses a value produced by Encode. Any structural problem yields
// ErrMalformed.
func Decode(value string) (Token, error) {
	if value == "" || len(value) > maxEncodedLen {
		return Token{}, ErrMalformed
	}
	raw, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return Token{}, ErrMalformed
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var w wireToken
	if err := dec.Decode(&w); err != nil || dec.More() {
		return Token{}, ErrMalformed
	}

	id, err := uuid.Parse(w.SID)
	if err != nil || id.String() != w.SID {
		return Token{}, ErrMalformed
	}
	secret, err := base64.RawURLEncoding.DecodeString(w.RT)
	if err != nil || len(secret) != len(internal.RefreshSecret{}) {
		return Token{}, ErrMalformed
	}

	t := Token{SessionID: w.SID}
	copy(t.Secret[:], secret)
	return t, nil
}
