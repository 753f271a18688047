package totp

import (
	"errors"
	"fmt"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/cjmorris/finfeed/internal/otpauth"
)

// Validation errors raised at construction time
var (
	ErrBadDigits = errors.New("digits must be between 6 and 10")
	ErrBadPeriod = errors.New("period must be positive")
)

const (
	minDigits = 6
	maxDigits = 10
)

// Config holds the resolved, validated TOTP parameters. Immutable once
// constructed; safe for concurrent use.
type Config struct {
	secret    string // normalized base32
	digits    int
	period    uint // seconds
	algorithm otp.Algorithm
	offset    time.Duration // clock-skew adjustment, normally zero
}

type Option func(*Config)

func WithDigits(d int) Option {
	return func(c *Config) { c.digits = d }
}

func WithPeriod(seconds uint) Option {
	return func(c *Config) { c.period = seconds }
}

func WithAlgorithm(a otp.Algorithm) Option {
	return func(c *Config) { c.algorithm = a }
}

// WithOffset shifts the clock by a fixed amount before computing the time
// window. Intended for clock-skew testing.
func WithOffset(offset time.Duration) Option {
	return func(c *Config) { c.offset = offset }
}

// NewConfig builds a Config from a raw decoded secret.
func NewConfig(rawSecret []byte, opts ...Option) (*Config, error) {
	if len(rawSecret) == 0 {
		return nil, fmt.Errorf("%w", otpauth.ErrInvalidSecret)
	}
	cfg := &Config{
		secret:    otpauth.NormalizeSecret(otpauth.EncodeSecret(rawSecret)),
		digits:    otpauth.DefaultDigits,
		period:    otpauth.DefaultPeriod,
		algorithm: otp.AlgorithmSHA1,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.digits < minDigits || cfg.digits > maxDigits {
		return nil, fmt.Errorf("%w: got %d", ErrBadDigits, cfg.digits)
	}
	if cfg.period == 0 {
		return nil, fmt.Errorf("%w", ErrBadPeriod)
	}
	return cfg, nil
}

// NewConfigFromSecret builds a Config from a base32 secret string, the form
// the operator persists in environment configuration.
func NewConfigFromSecret(secret string, opts ...Option) (*Config, error) {
	raw, err := otpauth.DecodeSecret(secret)
	if err != nil {
		return nil, err
	}
	return NewConfig(raw, opts...)
}

// NewConfigFromURI builds a Config from a decoded provisioning URI.
func NewConfigFromURI(u *otpauth.ProvisioningURI) (*Config, error) {
	if u.Period <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrBadPeriod, u.Period)
	}
	return NewConfig(u.RawSecret,
		WithDigits(u.Digits),
		WithPeriod(uint(u.Period)),
		WithAlgorithm(u.Algorithm),
	)
}

func (c *Config) Digits() int  { return c.digits }
func (c *Config) Period() uint { return c.period }

// Passcode is a single time-based code. Ephemeral: valid only within its
// time window, recomputed on demand.
type Passcode struct {
	Code   string
	Window int64 // Unix time window index, floor(t / period)
}

// ExpiresIn reports how long the passcode remains valid relative to at.
func (p Passcode) ExpiresIn(at time.Time, period uint) time.Duration {
	end := (p.Window + 1) * int64(period)
	return time.Duration(end-at.Unix()) * time.Second
}

// Generate computes the passcode for the time window containing at.
// Pure function of (config, at): identical inputs yield identical codes.
func Generate(cfg *Config, at time.Time) (Passcode, error) {
	at = at.Add(cfg.offset)
	code, err := totp.GenerateCodeCustom(cfg.secret, at, totp.ValidateOpts{
		Period:    cfg.period,
		Digits:    otp.Digits(cfg.digits),
		Algorithm: cfg.algorithm,
	})
	if err != nil {
		return Passcode{}, fmt.Errorf("generate passcode: %w", err)
	}
	return Passcode{
		Code:   code,
		Window: at.Unix() / int64(cfg.period),
	}, nil
}

// Verify reports whether candidate matches the passcode for at's window or
// any window within ±window steps. Code comparison is constant time.
func Verify(cfg *Config, candidate string, at time.Time, window uint) (bool, error) {
	ok, err := totp.ValidateCustom(candidate, cfg.secret, at.Add(cfg.offset), totp.ValidateOpts{
		Period:    cfg.period,
		Skew:      window,
		Digits:    otp.Digits(cfg.digits),
		Algorithm: cfg.algorithm,
	})
	if err != nil {
		return false, fmt.Errorf("verify passcode: %w", err)
	}
	return ok, nil
}

// GenerateFromSecret computes the current passcode directly from a persisted
// base32 secret using default parameters (SHA1, 6 digits, 30s period).
func GenerateFromSecret(secret string, at time.Time) (Passcode, error) {
	cfg, err := NewConfigFromSecret(secret)
	if err != nil {
		return Passcode{}, err
	}
	return Generate(cfg, at)
}
