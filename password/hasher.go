package password

import (
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Hasher issues Argon2id hashes and verifies both Argon2id and legacy bcrypt
// hashes imported from the previous site. Legacy hashes always report
// NeedsRehash so they migrate on the next successful sign-in.
type Hasher struct {
	argon       *Argon2
	allowBcrypt bool
	dummy       string
}

// NewHasher wraps an Argon2 hasher. allowBcrypt enables "$2a$", "$2b$" and
// "$2y$" hashes.
func NewHasher(argon *Argon2, allowBcrypt bool) (*Hasher, error) {
	dummy, err := argon.Hash("campusauth-timing-equalizer")
	if err != nil {
		return nil, err
	}
	return &Hasher{
		argon:       argon,
		allowBcrypt: allowBcrypt,
		dummy:       dummy,
	}, nil
}

func isBcrypt(encoded string) bool {
	return strings.HasPrefix(encoded, "$2a$") ||
		strings.HasPrefix(encoded, "$2b$") ||
		strings.HasPrefix(encoded, "$2y$")
}

func (h *Hasher) Hash(password string) (string, error) {
	return h.argon.Hash(password)
}

// Verify reports a match. A malformed or unsupported hash is an error, not a
// mismatch.
func (h *Hasher) Verify(password, encoded string) (bool, error) {
	switch {
	case strings.HasPrefix(encoded, argon2Prefix):
		return h.argon.Verify(password, encoded)
	case h.allowBcrypt && isBcrypt(encoded):
		if len(password) > h.argon.config.MaxPasswordBytes {
			return false, ErrPasswordTooLong
		}
		err := bcrypt.CompareHashAndPassword([]byte(encoded), []byte(password))
		if err == nil {
			return true, nil
		}
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return false, nil
		}
		return false, err
	default:
		return false, ErrUnsupportedHash
	}
}

// NeedsRehash reports whether a verified hash should be replaced.
func (h *Hasher) NeedsRehash(encoded string) bool {
	if isBcrypt(encoded) {
		return true
	}
	upgrade, err := h.argon.NeedsUpgrade(encoded)
	return err == nil && upgrade
}

// Equalize burns one verification against a fixed hash so that unknown
// identifiers cost the same as wrong passwords.
func (h *Hasher) Equalize(password string) {
	_, _ = h.argon.Verify(password, h.dummy)
}
