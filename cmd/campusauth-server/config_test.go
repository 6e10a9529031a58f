package main

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleConfig = `
server:
  addr: ":9090"
database:
  dsn: postgres://campus@localhost/auth
jwt:
  signing_method: HS256
pages: [timetable, results, attendance]
roles:
  student: [timetable, results]
  admin: ["*"]
otp:
  cooldown: 90s
`

func TestLoadConfigFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "campusauth.yaml")
	if err := os.WriteFile(path, []byte(sampleConfig), 0o600); err != nil {
		t.Fatal(err)
	}
	secret := base64.StdEncoding.EncodeToString([]byte("0123456789abcdef0123456789abcdef"))
	t.Setenv("CAMPUSAUTH_JWT_PRIVATE_KEY", secret)
	t.Setenv("CAMPUSAUTH_SERVER_ADDR", ":7070")
	t.Setenv("CAMPUSAUTH_LOCKOUT_IDENTIFIER_THRESHOLD", "3")

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Server.Addr != ":7070" {
		t.Fatalf("env should override file, addr = %q", cfg.Server.Addr)
	}
	if cfg.Database.DSN != "postgres://campus@localhost/auth" {
		t.Fatalf("dsn = %q", cfg.Database.DSN)
	}
	if cfg.Auth.JWT.SigningMethod != "hs256" || len(cfg.Auth.JWT.PrivateKey) != 32 {
		t.Fatalf("jwt = %q / %d bytes", cfg.Auth.JWT.SigningMethod, len(cfg.Auth.JWT.PrivateKey))
	}
	if cfg.Auth.Lockout.IdentifierThreshold != 3 {
		t.Fatalf("threshold = %d", cfg.Auth.Lockout.IdentifierThreshold)
	}
	if cfg.Auth.OTP.Cooldown != 90*time.Second {
		t.Fatalf("cooldown = %v", cfg.Auth.OTP.Cooldown)
	}
	if len(cfg.Pages) != 3 || len(cfg.Roles["student"]) != 2 || cfg.Roles["admin"][0] != "*" {
		t.Fatalf("pages = %v roles = %v", cfg.Pages, cfg.Roles)
	}
	if err := cfg.Auth.Validate(); err != nil {
		t.Fatalf("loaded config should validate: %v", err)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig("")
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Server.BasePath != "/api/auth" || cfg.Cookie.Name != "campus_session" {
		t.Fatalf("unexpected defaults %+v %+v", cfg.Server, cfg.Cookie)
	}
	if cfg.Auth.Session.TTL != 7*24*time.Hour {
		t.Fatalf("session ttl = %v", cfg.Auth.Session.TTL)
	}
	if cfg.Database.PurgeInterval != time.Hour || cfg.Database.PurgeRetention != 24*time.Hour {
		t.Fatalf("purge = %v / %v", cfg.Database.PurgeInterval, cfg.Database.PurgeRetention)
	}
	if cfg.Auth.Audit.DropIfFull {
		t.Fatal("audit writes must block by default")
	}
}

func TestLoadConfigBadKey(t *testing.T) {
	t.Setenv("CAMPUSAUTH_JWT_PRIVATE_KEY", "not base64!")
	if _, err := loadConfig(""); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestNewLogger(t *testing.T) {
	if _, err := newLogger(logConfig{Level: "debug", Format: "console"}); err != nil {
		t.Fatalf("console logger: %v", err)
	}
	if _, err := newLogger(logConfig{Level: "loud"}); err == nil {
		t.Fatal("expected level error")
	}
}
