package federated

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"
)

const (
	GoogleJWKSURL = "https://www.googleapis.com/oauth2/v3/certs"

	defaultCacheTTL       = time.Hour
	defaultRefreshBackoff = 30 * time.Second
	defaultFetchTimeout   = 5 * time.Second
	unknownKIDWait        = time.Second
)

// GoogleIssuers are the issuer values Google places in ID tokens.
var GoogleIssuers = []string{"accounts.google.com", "https://accounts.google.com"}

var (
	ErrInvalidToken    = errors.New("invalid federated identity token")
	ErrJWKSUnavailable = errors.New("identity provider keys unavailable")
)

// Identity is what a verified ID token asserts about the user.
type Identity struct {
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
	HostedDomain  string
	Issuer        string
}

// Validator verifies a raw ID token and returns the asserted identity.
type Validator interface {
	Validate(ctx context.Context, rawIDToken string) (*Identity, error)
}

// JWKSConfig configures a JWKSValidator. Audiences holds the accepted OAuth
// client ids. HostedDomain, when set, restricts sign-in to one Workspace
// domain.
type JWKSConfig struct {
	JWKSURL      string
	Issuers      []string
	Audiences    []string
	HostedDomain string
	Leeway       time.Duration
	// CacheTTL is the background refresh interval of the key set.
	CacheTTL   time.Duration
	HTTPClient *http.Client
}

// JWKSValidator verifies RS256 ID tokens against a provider's published keys.
// The key set is loaded on first use and kept fresh in the background; an
// unknown kid triggers a rate limited refetch.
type JWKSValidator struct {
	cfg JWKSConfig
	now func() time.Time

	mu      sync.Mutex
	keys    keyfunc.Keyfunc
	stop    context.CancelFunc
	lastTry time.Time
}

func NewJWKSValidator(cfg JWKSConfig) (*JWKSValidator, error) {
	if cfg.JWKSURL == "" {
		cfg.JWKSURL = GoogleJWKSURL
	}
	if len(cfg.Issuers) == 0 {
		cfg.Issuers = GoogleIssuers
	}
	if len(cfg.Audiences) == 0 {
		return nil, errors.New("federated validator requires at least one audience")
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: defaultFetchTimeout}
	}
	return &JWKSValidator{cfg: cfg, now: time.Now}, nil
}

// Close stops the background key refresh.
func (v *JWKSValidator) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.stop != nil {
		v.stop()
		v.stop = nil
		v.keys = nil
	}
}

// loadKeys returns the live key set, loading it when none is held. Failed loads
// are retried at most once per defaultRefreshBackoff.
func (v *JWKSValidator) loadKeys() (keyfunc.Keyfunc, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.keys != nil {
		return v.keys, nil
	}
	now := v.now()
	if !v.lastTry.IsZero() && now.Sub(v.lastTry) < defaultRefreshBackoff {
		return nil, fmt.Errorf("%w: waiting to retry", ErrJWKSUnavailable)
	}
	v.lastTry = now

	ctx, cancel := context.WithCancel(context.Background())
	storage, err := jwkset.NewStorageFromHTTP(v.cfg.JWKSURL, jwkset.HTTPClientStorageOptions{
		Client:             v.cfg.HTTPClient,
		Ctx:                ctx,
		HTTPExpectedStatus: http.StatusOK,
		HTTPTimeout:        defaultFetchTimeout,
		RefreshInterval:    v.cfg.CacheTTL,
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %v", ErrJWKSUnavailable, err)
	}
	client, err := jwkset.NewHTTPClient(jwkset.HTTPClientOptions{
		HTTPURLs:          map[string]jwkset.Storage{v.cfg.JWKSURL: storage},
		RateLimitWaitMax:  unknownKIDWait,
		RefreshUnknownKID: rate.NewLimiter(rate.Every(defaultRefreshBackoff), 1),
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %v", ErrJWKSUnavailable, err)
	}
	kf, err := keyfunc.New(keyfunc.Options{
		Ctx:          ctx,
		Storage:      client,
		UseWhitelist: []jwkset.USE{jwkset.UseSig},
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %v", ErrJWKSUnavailable, err)
	}

	v.keys = kf
	v.stop = cancel
	return kf, nil
}

type idTokenClaims struct {
	Email         string      `json:"email"`
	EmailVerified interface{} `json:"email_verified"`
	Name          string      `json:"name"`
	HostedDomain  string      `json:"hd"`
	jwt.RegisteredClaims
}

func (v *JWKSValidator) Validate(ctx context.Context, rawIDToken string) (*Identity, error) {
	if strings.TrimSpace(rawIDToken) == "" {
		return nil, ErrInvalidToken
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(v.now),
	}
	if v.cfg.Leeway > 0 {
		opts = append(opts, jwt.WithLeeway(v.cfg.Leeway))
	}

	kf, err := v.loadKeys()
	if err != nil {
		return nil, err
	}

	var claims idTokenClaims
	_, err = jwt.NewParser(opts...).ParseWithClaims(rawIDToken, &claims, kf.KeyfuncCtx(ctx))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !containsString(v.cfg.Issuers, claims.Issuer) {
		return nil, fmt.Errorf("%w: unexpected issuer", ErrInvalidToken)
	}
	if !audienceMatches(claims.Audience, v.cfg.Audiences) {
		return nil, fmt.Errorf("%w: unexpected audience", ErrInvalidToken)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	if v.cfg.HostedDomain != "" && !strings.EqualFold(claims.HostedDomain, v.cfg.HostedDomain) {
		return nil, fmt.Errorf("%w: hosted domain not allowed", ErrInvalidToken)
	}

	return &Identity{
		Subject:       claims.Subject,
		Email:         strings.ToLower(strings.TrimSpace(claims.Email)),
		EmailVerified: truthy(claims.EmailVerified),
		Name:          claims.Name,
		HostedDomain:  claims.HostedDomain,
		Issuer:        claims.Issuer,
	}, nil
}

// Google sends email_verified as a bool, some older tokens as "true".
func truthy(v interface{}) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return strings.EqualFold(b, "true")
	default:
		return false
	}
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

func audienceMatches(aud jwt.ClaimStrings, allowed []string) bool {
	for _, a := range aud {
		if containsString(allowed, a) {
			return true
		}
	}
	return false
}
