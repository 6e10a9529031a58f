package main

import (
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/MrEthical07/campusauth"
	"github.com/MrEthical07/campusauth/httpapi"
	"github.com/MrEthical07/campusauth/middleware"
	"github.com/MrEthical07/campusauth/pgstore"
)

const envPrefix = "CAMPUSAUTH"

type serverConfig struct {
	Addr            string
	BasePath        string
	BodyLimit       string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	SweepInterval   time.Duration
}

type redisConfig struct {
	Addr     string
	Password string
	DB       int
}

type databaseConfig struct {
	DSN     string
	Migrate bool
	Pool    pgstore.PoolConfig
	// PurgeInterval is how often expired sessions are deleted; zero disables
	// the purge. Rows are kept PurgeRetention past expiry for reuse forensics.
	PurgeInterval  time.Duration
	PurgeRetention time.Duration
}

type logConfig struct {
	Level  string
	Format string
}

type appConfig struct {
	Server   serverConfig
	Log      logConfig
	Redis    redisConfig
	Database databaseConfig
	Auth     campusauth.Config
	Pages    []string
	Roles    map[string][]string
	Cookie   httpapi.CookieConfig
	Throttle middleware.ThrottleConfig
}

func setDefaults(v *viper.Viper) {
	def := campusauth.DefaultConfig()
	cookie := httpapi.DefaultCookieConfig()
	pool := pgstore.DefaultPoolConfig()

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.base_path", "/api/auth")
	v.SetDefault("server.body_limit", "64K")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.sweep_interval", time.Minute)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("database.migrate", false)
	v.SetDefault("database.purge_interval", time.Hour)
	v.SetDefault("database.purge_retention", 24*time.Hour)
	v.SetDefault("database.max_open_conns", pool.MaxOpenConns)
	v.SetDefault("database.max_idle_conns", pool.MaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", pool.ConnMaxLifetime)
	v.SetDefault("database.conn_max_idle_time", pool.ConnMaxIdleTime)

	v.SetDefault("jwt.signing_method", def.JWT.SigningMethod)
	v.SetDefault("jwt.access_ttl", def.JWT.AccessTTL)
	v.SetDefault("jwt.issuer", def.JWT.Issuer)
	v.SetDefault("jwt.leeway", def.JWT.Leeway)

	v.SetDefault("session.ttl", def.Session.TTL)
	v.SetDefault("session.retention", def.Session.Retention)

	v.SetDefault("lockout.identifier_threshold", def.Lockout.IdentifierThreshold)
	v.SetDefault("lockout.origin_threshold", def.Lockout.OriginThreshold)
	v.SetDefault("lockout.window", def.Lockout.Window)
	v.SetDefault("lockout.base_lock", def.Lockout.BaseLock)
	v.SetDefault("lockout.max_lock", def.Lockout.MaxLock)

	v.SetDefault("otp.digits", def.OTP.Digits)
	v.SetDefault("otp.ttl", def.OTP.TTL)
	v.SetDefault("otp.max_attempts", def.OTP.MaxAttempts)
	v.SetDefault("otp.cooldown", def.OTP.Cooldown)

	v.SetDefault("federated.enabled", false)

	v.SetDefault("snapshot.cache_ttl", def.Snapshot.CacheTTL)
	v.SetDefault("audit.enabled", def.Audit.Enabled)
	v.SetDefault("audit.buffer_size", def.Audit.BufferSize)
	v.SetDefault("audit.drop_if_full", def.Audit.DropIfFull)
	v.SetDefault("audit.enqueue_timeout", def.Audit.EnqueueTimeout)
	v.SetDefault("metrics.enabled", def.Metrics.Enabled)
	v.SetDefault("metrics.latency_histograms", true)
	v.SetDefault("security.production_mode", false)
	v.SetDefault("security.strict_validation", false)

	v.SetDefault("cookie.name", cookie.Name)
	v.SetDefault("cookie.path", cookie.Path)
	v.SetDefault("cookie.secure", cookie.Secure)

	v.SetDefault("throttle.per_second", 5.0)
	v.SetDefault("throttle.burst", 10)
	v.SetDefault("throttle.idle_ttl", 5*time.Minute)
}

// loadConfig reads an optional YAML file and CAMPUSAUTH_* environment
// variables. Environment values win.
func loadConfig(path string) (*appConfig, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &appConfig{
		Server: serverConfig{
			Addr:            v.GetString("server.addr"),
			BasePath:        v.GetString("server.base_path"),
			BodyLimit:       v.GetString("server.body_limit"),
			ReadTimeout:     v.GetDuration("server.read_timeout"),
			WriteTimeout:    v.GetDuration("server.write_timeout"),
			ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
			SweepInterval:   v.GetDuration("server.sweep_interval"),
		},
		Log: logConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		Redis: redisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Database: databaseConfig{
			DSN:     v.GetString("database.dsn"),
			Migrate: v.GetBool("database.migrate"),
			Pool: pgstore.PoolConfig{
				MaxOpenConns:    v.GetInt("database.max_open_conns"),
				MaxIdleConns:    v.GetInt("database.max_idle_conns"),
				ConnMaxLifetime: v.GetDuration("database.conn_max_lifetime"),
				ConnMaxIdleTime: v.GetDuration("database.conn_max_idle_time"),
			},
			PurgeInterval:  v.GetDuration("database.purge_interval"),
			PurgeRetention: v.GetDuration("database.purge_retention"),
		},
		Pages: v.GetStringSlice("pages"),
		Roles: v.GetStringMapStringSlice("roles"),
		Cookie: httpapi.CookieConfig{
			Name:     v.GetString("cookie.name"),
			Path:     v.GetString("cookie.path"),
			Domain:   v.GetString("cookie.domain"),
			Secure:   v.GetBool("cookie.secure"),
			SameSite: httpapi.DefaultCookieConfig().SameSite,
		},
		Throttle: middleware.ThrottleConfig{
			PerSecond: v.GetFloat64("throttle.per_second"),
			Burst:     v.GetInt("throttle.burst"),
			IdleTTL:   v.GetDuration("throttle.idle_ttl"),
		},
	}

	auth := campusauth.DefaultConfig()
	auth.JWT.SigningMethod = strings.ToLower(v.GetString("jwt.signing_method"))
	auth.JWT.AccessTTL = v.GetDuration("jwt.access_ttl")
	auth.JWT.Issuer = v.GetString("jwt.issuer")
	auth.JWT.Audience = v.GetString("jwt.audience")
	auth.JWT.KeyID = v.GetString("jwt.key_id")
	auth.JWT.Leeway = v.GetDuration("jwt.leeway")

	var err error
	if auth.JWT.PrivateKey, err = keyMaterial(v, "jwt.private_key"); err != nil {
		return nil, err
	}
	if auth.JWT.PublicKey, err = keyMaterial(v, "jwt.public_key"); err != nil {
		return nil, err
	}

	auth.Session.TTL = v.GetDuration("session.ttl")
	auth.Session.Retention = v.GetDuration("session.retention")

	auth.Lockout.IdentifierThreshold = v.GetInt("lockout.identifier_threshold")
	auth.Lockout.OriginThreshold = v.GetInt("lockout.origin_threshold")
	auth.Lockout.Window = v.GetDuration("lockout.window")
	auth.Lockout.BaseLock = v.GetDuration("lockout.base_lock")
	auth.Lockout.MaxLock = v.GetDuration("lockout.max_lock")

	auth.OTP.Digits = v.GetInt("otp.digits")
	auth.OTP.TTL = v.GetDuration("otp.ttl")
	auth.OTP.MaxAttempts = v.GetInt("otp.max_attempts")
	auth.OTP.Cooldown = v.GetDuration("otp.cooldown")

	auth.Federated.Enabled = v.GetBool("federated.enabled")
	auth.Federated.ClientIDs = v.GetStringSlice("federated.client_ids")
	auth.Federated.ClientSecret = v.GetString("federated.client_secret")
	auth.Federated.RedirectURL = v.GetString("federated.redirect_url")
	auth.Federated.HostedDomain = v.GetString("federated.hosted_domain")

	auth.Snapshot.CacheTTL = v.GetDuration("snapshot.cache_ttl")
	auth.Audit.Enabled = v.GetBool("audit.enabled")
	auth.Audit.BufferSize = v.GetInt("audit.buffer_size")
	auth.Audit.DropIfFull = v.GetBool("audit.drop_if_full")
	auth.Audit.EnqueueTimeout = v.GetDuration("audit.enqueue_timeout")
	auth.Metrics.Enabled = v.GetBool("metrics.enabled")
	auth.Metrics.EnableLatencyHistograms = v.GetBool("metrics.latency_histograms")
	auth.Security.ProductionMode = v.GetBool("security.production_mode")
	auth.Security.StrictValidation = v.GetBool("security.strict_validation")

	cfg.Auth = auth
	return cfg, nil
}

// keyMaterial reads <key>_file when set, otherwise <key> as base64.
func keyMaterial(v *viper.Viper, key string) ([]byte, error) {
	if path := v.GetString(key + "_file"); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", key, err)
		}
		return b, nil
	}
	raw := v.GetString(key)
	if raw == "" {
		return nil, nil
	}
	b, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return b, nil
}

func newLogger(cfg logConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}

	var zc zap.Config
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
		zc.EncoderConfig.TimeKey = "timestamp"
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
