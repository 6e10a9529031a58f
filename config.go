package campusauth

import (
	"errors"
	"strings"
	"time"
)

// Config is the complete engine configuration. Build clones it; later edits
// to the caller's copy have no effect.
type Config struct {
	JWT        JWTConfig
	Session    SessionConfig
	Password   PasswordConfig
	Lockout    LockoutConfig
	OTP        OTPConfig
	Federated  FederatedConfig
	Snapshot   SnapshotConfig
	Permission PermissionConfig
	Audit      AuditConfig
	Metrics    MetricsConfig
	Security   SecurityConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig configures access tokens.
type JWTConfig struct {
	AccessTTL     time.Duration
	SigningMethod string // "ed25519" (default), "hs256" optional
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	KeyID         string
	Leeway        time.Duration
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig configures refresh sessions.
type SessionConfig struct {
	RedisPrefix string
	TTL         time.Duration
	// Retention keeps revoked and expired rows readable after expiry so late
	// refreshes are answered precisely.
	Retention time.Duration
}

/*
====================================
PASSWORD CONFIG
====================================
*/

type PasswordConfig struct {
	Memory           uint32 // in KB
	Time             uint32
	Parallelism      uint8
	SaltLength       uint32
	KeyLength        uint32
	MaxPasswordBytes int
	// AllowBcrypt accepts imported bcrypt hashes and upgrades them on login.
	AllowBcrypt bool
}

/*
====================================
LOCKOUT CONFIG
====================================
*/

// LockoutConfig configures the brute-force guard. A lock starts when the
// threshold is reached inside Window and lasts BaseLock, doubling per
// consecutive lock up to MaxLock.
type LockoutConfig struct {
	RedisPrefix         string
	IdentifierThreshold int
	OriginThreshold     int
	Window              time.Duration
	BaseLock            time.Duration
	MaxLock             time.Duration
	LevelMemory         time.Duration
	KnownOriginTTL      time.Duration
}

/*
====================================
OTP CONFIG
====================================
*/

type OTPConfig struct {
	RedisPrefix string
	Digits      int
	TTL         time.Duration
	MaxAttempts int
	Cooldown    time.Duration
}

/*
====================================
FEDERATED CONFIG
====================================
*/

// FederatedConfig configures Google sign-in. ClientSecret is only needed for
// the authorization-code path.
type FederatedConfig struct {
	Enabled      bool
	ClientIDs    []string
	ClientSecret string
	RedirectURL  string
	JWKSURL      string
	Issuers      []string
	HostedDomain string
	Leeway       time.Duration
	KeyCacheTTL  time.Duration
}

/*
====================================
SNAPSHOT / PERMISSION CONFIG
====================================
*/

type SnapshotConfig struct {
	RedisPrefix string
	CacheTTL    time.Duration
}

type PermissionConfig struct {
	MaxBits         int // 64 or 128
	RootBitReserved bool
}

/*
====================================
AUDIT / METRICS / SECURITY CONFIG
====================================
*/

// AuditConfig controls the audit pipeline. By default a full buffer makes the
// request wait up to EnqueueTimeout for room; DropIfFull drops at once instead.
type AuditConfig struct {
	Enabled        bool
	BufferSize     int
	DropIfFull     bool
	EnqueueTimeout time.Duration
	Workers        int
	StoreTimeout   time.Duration
}

type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

type SecurityConfig struct {
	ProductionMode bool
	// StrictValidation makes ValidateAccess also require a live session.
	StrictValidation bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns production-shaped defaults without signing keys.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			SigningMethod: "ed25519",
			Issuer:        "campusauth",
			Leeway:        30 * time.Second,
		},
		Session: SessionConfig{
			RedisPrefix: "rs",
			TTL:         7 * 24 * time.Hour,
			Retention:   time.Hour,
		},
		Password: PasswordConfig{
			Memory:           65536,
			Time:             3,
			Parallelism:      2,
			SaltLength:       16,
			KeyLength:        32,
			MaxPasswordBytes: 1024,
			AllowBcrypt:      true,
		},
		Lockout: LockoutConfig{
			RedisPrefix:         "gk",
			IdentifierThreshold: 5,
			OriginThreshold:     20,
			Window:              15 * time.Minute,
			BaseLock:            time.Minute,
			MaxLock:             time.Hour,
			LevelMemory:         24 * time.Hour,
			KnownOriginTTL:      90 * 24 * time.Hour,
		},
		OTP: OTPConfig{
			RedisPrefix: "otp",
			Digits:      6,
			TTL:         5 * time.Minute,
			MaxAttempts: 3,
			Cooldown:    60 * time.Second,
		},
		Federated: FederatedConfig{
			Enabled:     false,
			Leeway:      30 * time.Second,
			KeyCacheTTL: time.Hour,
		},
		Snapshot: SnapshotConfig{
			RedisPrefix: "snap",
			CacheTTL:    10 * time.Minute,
		},
		Permission: PermissionConfig{
			MaxBits:         64,
			RootBitReserved: true,
		},
		Audit: AuditConfig{
			Enabled:        true,
			BufferSize:     1024,
			DropIfFull:     false,
			EnqueueTimeout: 2 * time.Second,
			Workers:        2,
			StoreTimeout:   5 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	out.Federated.ClientIDs = append([]string(nil), cfg.Federated.ClientIDs...)
	out.Federated.Issuers = append([]string(nil), cfg.Federated.Issuers...)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate checks the configuration before Build wires anything.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.AccessTTL > time.Hour {
		return errors.New("JWT AccessTTL must be <= 1h")
	}
	switch c.JWT.SigningMethod {
	case "ed25519":
		if len(c.JWT.PrivateKey) == 0 {
			return errors.New("ed25519 requires PrivateKey")
		}
		if len(c.JWT.PublicKey) == 0 {
			return errors.New("ed25519 requires PublicKey")
		}
	case "hs256":
		if len(c.JWT.PrivateKey) < 32 {
			return errors.New("hs256 requires a PrivateKey of at least 32 bytes")
		}
	default:
		return errors.New("unsupported JWT signing method")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be between 0 and 2m")
	}
	if c.JWT.Audience != "" && strings.TrimSpace(c.JWT.Audience) == "" {
		return errors.New("JWT Audience must not be blank")
	}

	// Session
	if c.Session.TTL <= 0 {
		return errors.New("Session TTL must be > 0")
	}
	if c.Session.TTL <= c.JWT.AccessTTL {
		return errors.New("Session TTL must exceed JWT AccessTTL")
	}
	if c.Session.Retention < 0 {
		return errors.New("Session Retention must be >= 0")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}

	// Lockout
	if c.Lockout.IdentifierThreshold <= 0 || c.Lockout.OriginThreshold <= 0 {
		return errors.New("Lockout thresholds must be > 0")
	}
	if c.Lockout.OriginThreshold < c.Lockout.IdentifierThreshold {
		return errors.New("Lockout OriginThreshold must be >= IdentifierThreshold")
	}
	if c.Lockout.Window <= 0 {
		return errors.New("Lockout Window must be > 0")
	}
	if c.Lockout.BaseLock <= 0 || c.Lockout.MaxLock < c.Lockout.BaseLock {
		return errors.New("Lockout requires 0 < BaseLock <= MaxLock")
	}

	// OTP
	if c.OTP.Digits < 6 || c.OTP.Digits > 10 {
		return errors.New("OTP Digits must be between 6 and 10")
	}
	if c.OTP.TTL <= 0 || c.OTP.TTL > 15*time.Minute {
		return errors.New("OTP TTL must be in (0, 15m]")
	}
	if c.OTP.MaxAttempts <= 0 || c.OTP.MaxAttempts > 5 {
		return errors.New("OTP MaxAttempts must be between 1 and 5")
	}
	if c.OTP.Cooldown < 0 {
		return errors.New("OTP Cooldown must be >= 0")
	}

	// Federated
	if c.Federated.Enabled && len(c.Federated.ClientIDs) == 0 {
		return errors.New("Federated login requires at least one ClientID")
	}

	// Permission
	if c.Permission.MaxBits != 64 && c.Permission.MaxBits != 128 {
		return errors.New("Permission MaxBits must be 64 or 128")
	}
	if c.Snapshot.CacheTTL < 0 {
		return errors.New("Snapshot CacheTTL must be >= 0")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}
	if c.Audit.EnqueueTimeout < 0 {
		return errors.New("Audit EnqueueTimeout must be >= 0")
	}

	// Production
	if c.Security.ProductionMode {
		if c.JWT.SigningMethod != "ed25519" {
			return errors.New("ProductionMode requires ed25519 signing")
		}
		if c.OTP.Cooldown <= 0 {
			return errors.New("ProductionMode requires an OTP cooldown")
		}
		if !c.Audit.Enabled {
			return errors.New("ProductionMode requires audit logging")
		}
	}

	return nil
}
