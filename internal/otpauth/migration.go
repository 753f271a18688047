package otpauth

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"

	"github.com/pquerna/otp"
	"google.golang.org/protobuf/encoding/protowire"
)

const migrationPrefix = "otpauth-migration://"

// MigrationEntry is one account carried in a Google Authenticator export QR.
type MigrationEntry struct {
	Name      string
	Issuer    string
	Secret    string // normalized base32
	Algorithm otp.Algorithm
	Digits    int
}

// IsMigration reports whether a QR payload is a Google Authenticator
// "transfer accounts" export rather than a plain provisioning URI.
func IsMigration(raw string) bool {
	return strings.HasPrefix(raw, migrationPrefix)
}

// ParseMigration decodes an otpauth-migration://offline?data=... payload.
// The data parameter is base64 wrapping a protobuf message whose field 1 is a
// repeated per-account parameter block; counter-based entries are skipped.
func ParseMigration(raw string) ([]MigrationEntry, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "otpauth-migration" {
		return nil, fmt.Errorf("%w: not an otpauth-migration URI", ErrInvalidFormat)
	}

	data := u.Query().Get("data")
	if data == "" {
		return nil, fmt.Errorf("%w: migration payload has no data parameter", ErrInvalidFormat)
	}

	blob, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		// Some exports arrive with the padding stripped
		blob, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(data, "="))
		if err != nil {
			return nil, fmt.Errorf("%w: data is not valid base64: %v", ErrInvalidFormat, err)
		}
	}

	entries, err := parseMigrationPayload(blob)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: migration payload contains no TOTP accounts", ErrInvalidFormat)
	}
	return entries, nil
}

func parseMigrationPayload(b []byte) ([]MigrationEntry, error) {
	var entries []MigrationEntry
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: malformed migration payload", ErrInvalidFormat)
		}
		b = b[n:]

		if num == 1 && typ == protowire.BytesType {
			msg, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: malformed account block", ErrInvalidFormat)
			}
			b = b[n:]

			entry, counterBased, err := parseMigrationEntry(msg)
			if err != nil {
				return nil, err
			}
			if !counterBased {
				entries = append(entries, entry)
			}
			continue
		}

		n = protowire.ConsumeFieldValue(num, typ, b)
		if n < 0 {
			return nil, fmt.Errorf("%w: malformed migration payload", ErrInvalidFormat)
		}
		b = b[n:]
	}
	return entries, nil
}

// Field numbers inside one account block of the export payload:
// 1=secret, 2=name, 3=issuer, 4=algorithm, 5=digits, 6=type.
func parseMigrationEntry(b []byte) (MigrationEntry, bool, error) {
	entry := MigrationEntry{Algorithm: otp.AlgorithmSHA1, Digits: DefaultDigits}
	counterBased := false

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return entry, false, fmt.Errorf("%w: malformed account block", ErrInvalidFormat)
		}
		b = b[n:]

		switch {
		case typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return entry, false, fmt.Errorf("%w: malformed account block", ErrInvalidFormat)
			}
			b = b[n:]
			switch num {
			case 1:
				entry.Secret = NormalizeSecret(EncodeSecret(v))
			case 2:
				entry.Name = string(v)
			case 3:
				entry.Issuer = string(v)
			}
		case typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return entry, false, fmt.Errorf("%w: malformed account block", ErrInvalidFormat)
			}
			b = b[n:]
			switch num {
			case 4:
				switch v {
				case 2:
					entry.Algorithm = otp.AlgorithmSHA256
				case 3:
					entry.Algorithm = otp.AlgorithmSHA512
				default:
					entry.Algorithm = otp.AlgorithmSHA1
				}
			case 5:
				if v == 2 {
					entry.Digits = 8
				}
			case 6:
				// type enum: 1=HOTP, 2=TOTP
				if v == 1 {
					counterBased = true
				}
			}
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return entry, false, fmt.Errorf("%w: malformed account block", ErrInvalidFormat)
			}
			b = b[n:]
		}
	}

	if entry.Secret == "" {
		return entry, false, fmt.Errorf("%w: account %q has no secret", ErrInvalidSecret, entry.Name)
	}
	return entry, counterBased, nil
}
