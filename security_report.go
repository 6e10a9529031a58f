package campusauth

import (
	"time"

	"github.com/MrEthical07/campusauth/credential"
)

// SecurityReport summarizes the effective security posture of an engine.
type SecurityReport struct {
	ProductionMode       bool
	SigningAlgorithm     string
	StrictValidation     bool
	AccessTTL            time.Duration
	SessionTTL           time.Duration
	Argon2               PasswordConfigReport
	LegacyBcryptAccepted bool
	IdentifierThreshold  int
	OriginThreshold      int
	LockoutWindow        time.Duration
	MaxLock              time.Duration
	OTPDigits            int
	OTPTTL               time.Duration
	OTPAttempts          int
	OTPCooldown          time.Duration
	FederatedEnabled     bool
	HostedDomain         string
	AuditEnabled         bool
	AuditDropIfFull      bool
	PermissionBits       int
	RegisteredPages      int
	RegisteredRoles      int
}

type PasswordConfigReport struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}

	r := SecurityReport{
		ProductionMode:   e.config.Security.ProductionMode,
		SigningAlgorithm: e.config.JWT.SigningMethod,
		StrictValidation: e.config.Security.StrictValidation,
		AccessTTL:        e.config.JWT.AccessTTL,
		SessionTTL:       e.config.Session.TTL,
		Argon2: PasswordConfigReport{
			Memory:      e.config.Password.Memory,
			Time:        e.config.Password.Time,
			Parallelism: e.config.Password.Parallelism,
			SaltLength:  e.config.Password.SaltLength,
			KeyLength:   e.config.Password.KeyLength,
		},
		LegacyBcryptAccepted: e.config.Password.AllowBcrypt,
		IdentifierThreshold:  e.config.Lockout.IdentifierThreshold,
		OriginThreshold:      e.config.Lockout.OriginThreshold,
		LockoutWindow:        e.config.Lockout.Window,
		MaxLock:              e.config.Lockout.MaxLock,
		OTPDigits:            e.config.OTP.Digits,
		OTPTTL:               e.config.OTP.TTL,
		OTPAttempts:          e.config.OTP.MaxAttempts,
		OTPCooldown:          e.config.OTP.Cooldown,
		FederatedEnabled:     e.verifiers != nil && e.verifiers[credential.MethodGoogle] != nil,
		HostedDomain:         e.config.Federated.HostedDomain,
		AuditEnabled:         e.config.Audit.Enabled,
		AuditDropIfFull:      e.config.Audit.DropIfFull,
		PermissionBits:       e.config.Permission.MaxBits,
	}
	if e.registry != nil {
		r.RegisteredPages = e.registry.Count()
	}
	if e.roleManager != nil {
		r.RegisteredRoles = e.roleManager.Count()
	}
	return r
}
