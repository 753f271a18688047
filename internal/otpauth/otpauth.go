package otpauth

import (
	"encoding/base32"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/pquerna/otp"
)

// Sentinel errors for QR payload decoding failures
var (
	ErrInvalidFormat = errors.New("payload is not an otpauth://totp URI")
	ErrInvalidSecret = errors.New("secret is missing or not valid base32")
)

const (
	DefaultDigits = 6
	DefaultPeriod = 30
)

// ProvisioningURI is the decoded form of an authenticator QR payload.
// Created once from a QR scan and never mutated afterwards.
type ProvisioningURI struct {
	Scheme    string
	Type      string
	Label     string
	Issuer    string
	Secret    string // normalized base32
	RawSecret []byte
	Algorithm otp.Algorithm
	Digits    int
	Period    int // seconds
}

// Parse decodes an otpauth://totp provisioning URI.
// The secret parameter is mandatory and must be valid base32; missing optional
// parameters fall back to SHA1 / 6 digits / 30 seconds. Unknown query
// parameters are ignored.
func Parse(raw string) (*ProvisioningURI, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	if u.Scheme != "otpauth" || u.Host != "totp" {
		return nil, fmt.Errorf("%w: got scheme %q, type %q", ErrInvalidFormat, u.Scheme, u.Host)
	}

	q := u.Query()

	secret := q.Get("secret")
	if secret == "" {
		return nil, fmt.Errorf("%w: no secret parameter", ErrInvalidSecret)
	}
	normalized := NormalizeSecret(secret)
	rawSecret, err := DecodeSecret(normalized)
	if err != nil {
		return nil, err
	}

	algorithm, err := parseAlgorithm(q.Get("algorithm"))
	if err != nil {
		return nil, err
	}

	digits := DefaultDigits
	if v := q.Get("digits"); v != "" {
		digits, err = strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("%w: digits %q is not a number", ErrInvalidFormat, v)
		}
	}

	period := DefaultPeriod
	if v := q.Get("period"); v != "" {
		period, err = strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("%w: period %q is not a number", ErrInvalidFormat, v)
		}
	}

	return &ProvisioningURI{
		Scheme:    u.Scheme,
		Type:      u.Host,
		Label:     strings.TrimPrefix(u.Path, "/"),
		Issuer:    q.Get("issuer"),
		Secret:    normalized,
		RawSecret: rawSecret,
		Algorithm: algorithm,
		Digits:    digits,
		Period:    period,
	}, nil
}

// String re-assembles the provisioning URI, e.g. for re-rendering a QR code.
func (p *ProvisioningURI) String() string {
	q := url.Values{}
	q.Set("secret", p.Secret)
	if p.Issuer != "" {
		q.Set("issuer", p.Issuer)
	}
	if p.Algorithm != otp.AlgorithmSHA1 {
		q.Set("algorithm", p.Algorithm.String())
	}
	if p.Digits != DefaultDigits {
		q.Set("digits", strconv.Itoa(p.Digits))
	}
	if p.Period != DefaultPeriod {
		q.Set("period", strconv.Itoa(p.Period))
	}
	return fmt.Sprintf("otpauth://totp/%s?%s", url.PathEscape(p.Label), q.Encode())
}

// NormalizeSecret uppercases a base32 secret and pads it to a multiple of
// eight characters, the form authenticator apps expect.
func NormalizeSecret(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.TrimRight(s, "=")
	if n := len(s) % 8; n != 0 {
		s += strings.Repeat("=", 8-n)
	}
	return s
}

// DecodeSecret decodes a base32 secret to raw key bytes.
func DecodeSecret(s string) ([]byte, error) {
	raw, err := base32.StdEncoding.DecodeString(NormalizeSecret(s))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSecret, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: secret is empty", ErrInvalidSecret)
	}
	return raw, nil
}

// EncodeSecret encodes raw key bytes as unpadded base32.
func EncodeSecret(raw []byte) string {
	return strings.TrimRight(base32.StdEncoding.EncodeToString(raw), "=")
}

func parseAlgorithm(s string) (otp.Algorithm, error) {
	switch strings.ToUpper(s) {
	case "", "SHA1":
		return otp.AlgorithmSHA1, nil
	case "SHA256":
		return otp.AlgorithmSHA256, nil
	case "SHA512":
		return otp.AlgorithmSHA512, nil
	}
	return 0, fmt.Errorf("%w: unsupported algorithm %q", ErrInvalidFormat, s)
}
