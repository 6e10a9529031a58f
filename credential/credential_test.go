package credential

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/MrEthical07/campusauth/account"
	"github.com/MrEthical07/campusauth/federated"
	"github.com/MrEthical07/campusauth/internal"
	"github.com/MrEthical07/campusauth/internal/stores"
	"github.com/MrEthical07/campusauth/password"
)

const testPassword = "correct-horse-battery"

func newHasher(t *testing.T) *password.Hasher {
	t.Helper()
	a, err := password.NewArgon2(password.Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32})
	if err != nil {
		t.Fatalf("argon2: %v", err)
	}
	h, err := password.NewHasher(a, true)
	if err != nil {
		t.Fatalf("hasher: %v", err)
	}
	return h
}

func expectFailure(t *testing.T, err error, want Failure) {
	t.Helper()
	re, ok := AsRejected(err)
	if !ok {
		t.Fatalf("expected rejection %s, got %v", want, err)
	}
	if re.Failure != want {
		t.Fatalf("expected %s, got %s", want, re.Failure)
	}
}

func TestPasswordVerifier(t *testing.T) {
	h := newHasher(t)
	hash, err := h.Hash(testPassword)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	users := account.NewMemoryStore(
		&account.User{ID: "u1", Email: "asha@college.edu", Mobile: "+919876543210", PasswordHash: hash, Status: account.StatusActive},
		&account.User{ID: "u2", Email: "off@college.edu", PasswordHash: hash, Status: account.StatusDisabled},
		&account.User{ID: "u3", Email: "google@college.edu", Status: account.StatusActive},
	)
	v := NewPasswordVerifier(users, h, nil)
	ctx := context.Background()

	res, err := v.Verify(ctx, Input{Identifier: " Asha@College.edu ", Secret: testPassword})
	if err != nil {
		t.Fatalf("email login: %v", err)
	}
	if res.User.ID != "u1" || res.Identifier != "asha@college.edu" {
		t.Fatalf("unexpected result %+v", res)
	}

	if _, err := v.Verify(ctx, Input{Identifier: "+91 98765-43210", Secret: testPassword}); err != nil {
		t.Fatalf("mobile login: %v", err)
	}

	_, err = v.Verify(ctx, Input{Identifier: "asha@college.edu", Secret: "wrong-password-1"})
	expectFailure(t, err, FailureInvalidCredentials)

	_, err = v.Verify(ctx, Input{Identifier: "nobody@college.edu", Secret: testPassword})
	expectFailure(t, err, FailureInvalidCredentials)

	_, err = v.Verify(ctx, Input{Identifier: "google@college.edu", Secret: testPassword})
	expectFailure(t, err, FailureInvalidCredentials)

	_, err = v.Verify(ctx, Input{Identifier: "not an id", Secret: testPassword})
	expectFailure(t, err, FailureInvalidFormat)

	if _, err := v.Verify(ctx, Input{Identifier: "off@college.edu", Secret: testPassword}); !errors.Is(err, account.ErrDisabled) {
		t.Fatalf("expected ErrDisabled after a correct password, got %v", err)
	}
	_, err = v.Verify(ctx, Input{Identifier: "off@college.edu", Secret: "wrong-password-1"})
	expectFailure(t, err, FailureInvalidCredentials)
}

func TestPasswordVerifierUpgradesLegacyBcrypt(t *testing.T) {
	legacy, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	users := account.NewMemoryStore(&account.User{ID: "u1", Email: "old@college.edu", PasswordHash: string(legacy)})
	v := NewPasswordVerifier(users, newHasher(t), nil)
	ctx := context.Background()

	res, err := v.Verify(ctx, Input{Identifier: "old@college.edu", Secret: testPassword})
	if err != nil {
		t.Fatalf("legacy login: %v", err)
	}
	if !res.Rehashed {
		t.Fatal("expected legacy hash to be upgraded")
	}
	u, _ := users.FindByID(ctx, "u1")
	if u.PasswordHash == string(legacy) || u.PasswordHash[:10] != "$argon2id$" {
		t.Fatalf("stored hash not upgraded: %q", u.PasswordHash)
	}
	if _, err := v.Verify(ctx, Input{Identifier: "old@college.edu", Secret: testPassword}); err != nil {
		t.Fatalf("login with upgraded hash: %v", err)
	}
}

func newCodeStore(t *testing.T) *stores.CodeStore {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	return stores.NewCodeStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "")
}

func TestOTPVerifier(t *testing.T) {
	codes := newCodeStore(t)
	users := account.NewMemoryStore(&account.User{ID: "u1", Email: "ravi@college.edu"})
	v := NewOTPVerifier(users, codes, 6)
	ctx := context.Background()

	if err := codes.Save(ctx, ChannelEmail, PurposeLogin, "ravi@college.edu", internal.HashCode("123456"), 3, 5*time.Minute); err != nil {
		t.Fatalf("save: %v", err)
	}

	_, err := v.Verify(ctx, Input{Identifier: "ravi@college.edu", Secret: "000000"})
	expectFailure(t, err, FailureInvalidCode)

	res, err := v.Verify(ctx, Input{Identifier: "RAVI@college.edu", Secret: "123456"})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if res.User.ID != "u1" {
		t.Fatalf("unexpected user %s", res.User.ID)
	}

	_, err = v.Verify(ctx, Input{Identifier: "ravi@college.edu", Secret: "123456"})
	expectFailure(t, err, FailureInvalidCode)

	_, err = v.Verify(ctx, Input{Identifier: "ravi@college.edu", Secret: "12ab56"})
	expectFailure(t, err, FailureInvalidFormat)
}

func TestOTPVerifierExhaustion(t *testing.T) {
	codes := newCodeStore(t)
	users := account.NewMemoryStore(&account.User{ID: "u1", Email: "ravi@college.edu"})
	v := NewOTPVerifier(users, codes, 6)
	ctx := context.Background()

	if err := codes.Save(ctx, ChannelEmail, PurposeLogin, "ravi@college.edu", internal.HashCode("654321"), 3, 5*time.Minute); err != nil {
		t.Fatalf("save: %v", err)
	}
	for i := 0; i < 3; i++ {
		_, err := v.Verify(ctx, Input{Identifier: "ravi@college.edu", Secret: "111111"})
		expectFailure(t, err, FailureInvalidCode)
	}
	_, err := v.Verify(ctx, Input{Identifier: "ravi@college.edu", Secret: "654321"})
	expectFailure(t, err, FailureInvalidCode)
}

type fakeValidator struct {
	id  *federated.Identity
	err error
}

func (f fakeValidator) Validate(context.Context, string) (*federated.Identity, error) {
	return f.id, f.err
}

type fakeExchanger struct{ token string }

func (f fakeExchanger) Exchange(_ context.Context, code string) (string, error) {
	if code != "good-code" {
		return "", federated.ErrExchangeFailed
	}
	return f.token, nil
}

func TestFederatedVerifierAutoLinksThenResolvesBySubject(t *testing.T) {
	users := account.NewMemoryStore(&account.User{ID: "u1", Email: "meera@college.edu"})
	id := &federated.Identity{Subject: "g-1", Email: "meera@college.edu", EmailVerified: true}
	v := NewFederatedVerifier(users, fakeValidator{id: id}, nil, nil)
	ctx := context.Background()

	res, err := v.Verify(ctx, Input{IDToken: "tok"})
	if err != nil {
		t.Fatalf("first login: %v", err)
	}
	if !res.Linked || res.User.ID != "u1" {
		t.Fatalf("expected auto-link, got %+v", res)
	}

	res, err = v.Verify(ctx, Input{IDToken: "tok"})
	if err != nil {
		t.Fatalf("second login: %v", err)
	}
	if res.Linked {
		t.Fatal("second login must resolve by subject without linking")
	}
}

func TestFederatedVerifierRejections(t *testing.T) {
	users := account.NewMemoryStore(
		&account.User{ID: "u1", Email: "taken@college.edu", FederatedSubject: "g-other"},
	)
	ctx := context.Background()

	unverified := NewFederatedVerifier(users, fakeValidator{id: &federated.Identity{Subject: "g-2", Email: "x@college.edu"}}, nil, nil)
	_, err := unverified.Verify(ctx, Input{IDToken: "tok"})
	expectFailure(t, err, FailureNoLinkedAccount)

	unknown := NewFederatedVerifier(users, fakeValidator{id: &federated.Identity{Subject: "g-3", Email: "new@college.edu", EmailVerified: true}}, nil, nil)
	_, err = unknown.Verify(ctx, Input{IDToken: "tok"})
	expectFailure(t, err, FailureNoLinkedAccount)

	conflict := NewFederatedVerifier(users, fakeValidator{id: &federated.Identity{Subject: "g-4", Email: "taken@college.edu", EmailVerified: true}}, nil, nil)
	_, err = conflict.Verify(ctx, Input{IDToken: "tok"})
	expectFailure(t, err, FailureNoLinkedAccount)

	bad := NewFederatedVerifier(users, fakeValidator{err: federated.ErrInvalidToken}, nil, nil)
	_, err = bad.Verify(ctx, Input{IDToken: "tok"})
	expectFailure(t, err, FailureInvalidToken)

	_, err = bad.Verify(ctx, Input{})
	expectFailure(t, err, FailureInvalidFormat)

	down := NewFederatedVerifier(users, fakeValidator{err: federated.ErrJWKSUnavailable}, nil, nil)
	if _, err := down.Verify(ctx, Input{IDToken: "tok"}); !errors.Is(err, federated.ErrJWKSUnavailable) {
		t.Fatalf("backend failure must not be a rejection, got %v", err)
	}
}

func TestFederatedVerifierCodeExchange(t *testing.T) {
	users := account.NewMemoryStore(&account.User{ID: "u1", Email: "k@college.edu", FederatedSubject: "g-1"})
	v := NewFederatedVerifier(users, fakeValidator{id: &federated.Identity{Subject: "g-1"}}, fakeExchanger{token: "id"}, nil)
	ctx := context.Background()

	if _, err := v.Verify(ctx, Input{Code: "good-code"}); err != nil {
		t.Fatalf("code login: %v", err)
	}
	_, err := v.Verify(ctx, Input{Code: "bad-code"})
	expectFailure(t, err, FailureInvalidToken)
}
