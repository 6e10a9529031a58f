package campusauth

import (
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/MrEthical07/campusauth/account"
	"github.com/MrEthical07/campusauth/credential"
	"github.com/MrEthical07/campusauth/federated"
	"github.com/MrEthical07/campusauth/internal/audit"
	"github.com/MrEthical07/campusauth/internal/limiters"
	"github.com/MrEthical07/campusauth/internal/rate"
	"github.com/MrEthical07/campusauth/internal/stores"
	"github.com/MrEthical07/campusauth/jwt"
	"github.com/MrEthical07/campusauth/password"
	"github.com/MrEthical07/campusauth/permission"
	"github.com/MrEthical07/campusauth/session"
)

// Builder collects dependencies and produces an Engine once.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	pages []string
	roles map[string][]string

	users        account.Store
	sessionStore session.Store
	auditSink    AuditSink
	auditStore   AuditStore
	notifier     Notifier
	logger       *zap.Logger
	validator    federated.Validator
	exchanger    federated.Exchanger

	built bool
}

// New returns a builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client backing counters, codes, cooldowns, the snapshot
// cache and, unless WithSessionStore is used, sessions.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithPages registers the site's page names. Order fixes bit positions.
func (b *Builder) WithPages(pages []string) *Builder {
	b.pages = pages
	return b
}

// WithRoles maps role names to page names. "*" grants every page.
func (b *Builder) WithRoles(r map[string][]string) *Builder {
	b.roles = r
	return b
}

func (b *Builder) WithUserStore(users account.Store) *Builder {
	b.users = users
	return b
}

// WithSessionStore replaces the Redis session store, for example with
// pgstore.SessionStore.
func (b *Builder) WithSessionStore(store session.Store) *Builder {
	b.sessionStore = store
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithAuditStore appends every audit event to durable storage.
func (b *Builder) WithAuditStore(store AuditStore) *Builder {
	b.auditStore = store
	return b
}

func (b *Builder) WithNotifier(n Notifier) *Builder {
	b.notifier = n
	return b
}

func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithFederated overrides the Google token validator and code exchanger.
// Either may be nil to keep the configured default.
func (b *Builder) WithFederated(v federated.Validator, x federated.Exchanger) *Builder {
	b.validator = v
	b.exchanger = x
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build validates the configuration and wires the engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(b.pages) == 0 {
		return nil, errors.New("pages must be provided")
	}
	if len(b.roles) == 0 {
		return nil, errors.New("roles must be provided")
	}
	if b.users == nil {
		return nil, errors.New("user store required")
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	// -------- PERMISSION REGISTRY --------
	registry, err := permission.NewRegistry(cfg.Permission.MaxBits, cfg.Permission.RootBitReserved)
	if err != nil {
		return nil, err
	}
	for _, p := range b.pages {
		if _, err := registry.Register(p); err != nil {
			return nil, fmt.Errorf("register page %q: %w", p, err)
		}
	}
	registry.Freeze()

	// -------- ROLE MANAGER --------
	roleManager := permission.NewRoleManager(registry)
	roleNames := make([]string, 0, len(b.roles))
	for name := range b.roles {
		roleNames = append(roleNames, name)
	}
	sort.Strings(roleNames)
	for _, name := range roleNames {
		if err := roleManager.RegisterRole(name, b.roles[name]); err != nil {
			return nil, fmt.Errorf("register role %q: %w", name, err)
		}
	}
	roleManager.Freeze()

	// -------- GATEKEEPER --------
	counter := rate.NewRedisCounter(b.redis, cfg.Lockout.RedisPrefix)
	gate := limiters.NewGatekeeper(b.redis, counter, limiters.GatekeeperConfig{
		Identifier: rate.Policy{
			Threshold:   cfg.Lockout.IdentifierThreshold,
			Window:      cfg.Lockout.Window,
			BaseLock:    cfg.Lockout.BaseLock,
			MaxLock:     cfg.Lockout.MaxLock,
			LevelMemory: cfg.Lockout.LevelMemory,
		},
		Origin: rate.Policy{
			Threshold:   cfg.Lockout.OriginThreshold,
			Window:      cfg.Lockout.Window,
			BaseLock:    cfg.Lockout.BaseLock,
			MaxLock:     cfg.Lockout.MaxLock,
			LevelMemory: cfg.Lockout.LevelMemory,
		},
		OTPCooldown:    cfg.OTP.Cooldown,
		KnownOriginTTL: cfg.Lockout.KnownOriginTTL,
	})

	// -------- SESSIONS --------
	store := b.sessionStore
	if store == nil {
		store = session.NewRedisStore(b.redis, cfg.Session.RedisPrefix, cfg.Session.Retention)
	}
	sessions, err := session.NewManager(store, cfg.Session.TTL)
	if err != nil {
		return nil, err
	}

	// -------- PASSWORDS --------
	argon, err := password.NewArgon2(password.Config{
		Memory:           cfg.Password.Memory,
		Time:             cfg.Password.Time,
		Parallelism:      cfg.Password.Parallelism,
		SaltLength:       cfg.Password.SaltLength,
		KeyLength:        cfg.Password.KeyLength,
		MaxPasswordBytes: cfg.Password.MaxPasswordBytes,
	})
	if err != nil {
		return nil, err
	}
	hasher, err := password.NewHasher(argon, cfg.Password.AllowBcrypt)
	if err != nil {
		return nil, err
	}

	// -------- ACCESS TOKENS --------
	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		KeyID:         cfg.JWT.KeyID,
		Leeway:        cfg.JWT.Leeway,
		RequireIAT:    true,
	})
	if err != nil {
		return nil, err
	}

	// -------- VERIFIERS --------
	codes := stores.NewCodeStore(b.redis, cfg.OTP.RedisPrefix)
	verifiers := map[credential.Method]credential.Verifier{
		credential.MethodPassword: credential.NewPasswordVerifier(b.users, hasher, logger.Named("password")),
		credential.MethodOTP:      credential.NewOTPVerifier(b.users, codes, cfg.OTP.Digits),
	}
	var closers []func()
	if cfg.Federated.Enabled || b.validator != nil {
		validator := b.validator
		if validator == nil {
			jwks, err := federated.NewJWKSValidator(federated.JWKSConfig{
				JWKSURL:      cfg.Federated.JWKSURL,
				Issuers:      cfg.Federated.Issuers,
				Audiences:    cfg.Federated.ClientIDs,
				HostedDomain: cfg.Federated.HostedDomain,
				Leeway:       cfg.Federated.Leeway,
				CacheTTL:     cfg.Federated.KeyCacheTTL,
			})
			if err != nil {
				return nil, err
			}
			validator = jwks
			closers = append(closers, jwks.Close)
		}
		exchanger := b.exchanger
		if exchanger == nil && cfg.Federated.ClientSecret != "" {
			exchanger, err = federated.NewCodeExchanger(federated.OAuthConfig{
				ClientID:     cfg.Federated.ClientIDs[0],
				ClientSecret: cfg.Federated.ClientSecret,
				RedirectURL:  cfg.Federated.RedirectURL,
			})
			if err != nil {
				return nil, err
			}
		}
		verifiers[credential.MethodGoogle] = credential.NewFederatedVerifier(b.users, validator, exchanger, logger.Named("federated"))
	}

	// -------- AUDIT --------
	var sink audit.MultiSink
	if b.auditStore != nil {
		sink = append(sink, audit.NewStoreSink(b.auditStore, logger.Named("audit"), cfg.Audit.StoreTimeout))
	}
	if b.auditSink != nil {
		sink = append(sink, b.auditSink)
	}
	dispatcher := audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
		Timeout:    cfg.Audit.EnqueueTimeout,
		Workers:    cfg.Audit.Workers,
	}, sink, logger.Named("audit"))

	engine := &Engine{
		config:      cloneConfig(cfg),
		registry:    registry,
		roleManager: roleManager,
		users:       b.users,
		redis:       b.redis,
		gate:        gate,
		codes:       codes,
		sessions:    sessions,
		snapshots: permission.NewBuilder(
			b.users,
			roleManager,
			stores.NewSnapshotCache(b.redis, cfg.Snapshot.RedisPrefix),
			cfg.Snapshot.CacheTTL,
			logger.Named("snapshot"),
		),
		jwtManager: jm,
		hasher:     hasher,
		verifiers:  verifiers,
		notifier:   b.notifier,
		audit:      dispatcher,
		metrics:    NewMetrics(cfg.Metrics),
		logger:     logger,
		closers:    closers,
	}
	engine.flows = engine.wireFlows()

	b.built = true
	return engine, nil
}
