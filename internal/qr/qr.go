package qr

import (
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"strings"

	"github.com/makiuchi-d/gozxing"
	multiqr "github.com/makiuchi-d/gozxing/multi/qrcode"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/cjmorris/finfeed/internal/otpauth"
)

// ErrNotFound means the image contains no decodable QR symbol.
var ErrNotFound = errors.New("no QR code detected in image")

// Extraction is the authenticator payload pulled out of a QR image.
// Exactly one of URI or Entries is set.
type Extraction struct {
	Payload string
	URI     *otpauth.ProvisioningURI // otpauth://totp payloads
	Entries []otpauth.MigrationEntry // otpauth-migration payloads
}

// Decode returns the text payloads of every QR symbol in the image file.
func Decode(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode image %s: %w", path, err)
	}

	bmp, err := gozxing.NewBinaryBitmap(gozxing.NewHybridBinarizer(gozxing.NewLuminanceSourceFromImage(img)))
	if err != nil {
		return nil, fmt.Errorf("binarize image: %w", err)
	}

	results, err := multiqr.NewQRCodeMultiReader().DecodeMultiple(bmp, nil)
	if err != nil || len(results) == 0 {
		return nil, ErrNotFound
	}

	payloads := make([]string, 0, len(results))
	for _, r := range results {
		payloads = append(payloads, r.GetText())
	}
	return payloads, nil
}

// Extract decodes the image and parses its single authenticator payload.
// Images holding more than one otpauth payload are rejected rather than
// picking one arbitrarily; unrelated QR symbols alongside one otpauth
// payload are tolerated.
func Extract(path string) (*Extraction, error) {
	payloads, err := Decode(path)
	if err != nil {
		return nil, err
	}

	var auth []string
	for _, p := range payloads {
		if strings.HasPrefix(p, "otpauth://") || otpauth.IsMigration(p) {
			auth = append(auth, p)
		}
	}
	if len(auth) == 0 {
		return nil, fmt.Errorf("%w: none of the %d QR codes is an authenticator payload",
			otpauth.ErrInvalidFormat, len(payloads))
	}
	if len(auth) > 1 {
		return nil, fmt.Errorf("%w: image contains %d authenticator payloads",
			otpauth.ErrInvalidFormat, len(auth))
	}

	payload := auth[0]
	if otpauth.IsMigration(payload) {
		entries, err := otpauth.ParseMigration(payload)
		if err != nil {
			return nil, err
		}
		return &Extraction{Payload: payload, Entries: entries}, nil
	}

	uri, err := otpauth.Parse(payload)
	if err != nil {
		return nil, err
	}
	return &Extraction{Payload: payload, URI: uri}, nil
}

// DecodeProvisioning is the single-payload convenience form of Extract for
// callers that only deal with plain provisioning URIs.
func DecodeProvisioning(path string) (*otpauth.ProvisioningURI, error) {
	ex, err := Extract(path)
	if err != nil {
		return nil, err
	}
	if ex.URI == nil {
		return nil, fmt.Errorf("%w: payload is a migration export, not a provisioning URI",
			otpauth.ErrInvalidFormat)
	}
	return ex.URI, nil
}

// EncodePNG renders a payload back into a QR PNG, e.g. to re-enroll a stored
// secret into an authenticator app.
func EncodePNG(payload string, size int) ([]byte, error) {
	code, err := qrcode.New(payload, qrcode.Medium)
	if err != nil {
		return nil, fmt.Errorf("failed to create QR code: %w", err)
	}
	png, err := code.PNG(size)
	if err != nil {
		return nil, fmt.Errorf("failed to encode QR code: %w", err)
	}
	return png, nil
}
