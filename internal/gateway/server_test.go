package gateway

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cjmorris/finfeed/internal/config"
	"github.com/cjmorris/finfeed/internal/totp"
)

const testSecret = "GEZDGNBVGY3TQOJQ"

func testServer(t *testing.T, token string) *Server {
	t.Helper()
	resolve := func(service string) (string, error) {
		if service == "rippling" {
			return testSecret, nil
		}
		return "", fmt.Errorf("no MFA secret configured for service %q", service)
	}
	s := New(config.GatewayConfig{
		Addr:       "127.0.0.1:0",
		Token:      token,
		RateLimit:  100,
		RateWindow: time.Minute,
	}, resolve, slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.now = func() time.Time { return time.Unix(59, 0) }
	return s
}

func doRequest(t *testing.T, s *Server, path, bearer string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)
	return rec
}

func TestHealthz_NoTokenRequired(t *testing.T) {
	rec := doRequest(t, testServer(t, "tok"), "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestOTP_ReturnsCurrentPasscode(t *testing.T) {
	rec := doRequest(t, testServer(t, "tok"), "/v1/otp/rippling", "tok")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp otpResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	want, err := totp.GenerateFromSecret(testSecret, time.Unix(59, 0))
	require.NoError(t, err)

	assert.Equal(t, "rippling", resp.Service)
	assert.Equal(t, want.Code, resp.Code)
	assert.Equal(t, want.Window, resp.Window)
	assert.Equal(t, 1, resp.ExpiresIn)
}

func TestOTP_MissingToken(t *testing.T) {
	rec := doRequest(t, testServer(t, "tok"), "/v1/otp/rippling", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestOTP_WrongToken(t *testing.T) {
	rec := doRequest(t, testServer(t, "tok"), "/v1/otp/rippling", "nope")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "unauthorized", resp.Error)
}

func TestOTP_EmptyTokenDisablesGateway(t *testing.T) {
	rec := doRequest(t, testServer(t, ""), "/v1/otp/rippling", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "gateway_disabled", resp.Error)
}

func TestOTP_UnknownService(t *testing.T) {
	rec := doRequest(t, testServer(t, "tok"), "/v1/otp/fidelity", "tok")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "unknown_service", resp.Error)
}

func TestOTP_UnusableSecret(t *testing.T) {
	s := testServer(t, "tok")
	s.resolve = func(string) (string, error) { return "NOTBASE32!", nil }

	rec := doRequest(t, s, "/v1/otp/rippling", "tok")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "bad_secret", resp.Error)
}

func TestRateLimit_PerToken(t *testing.T) {
	s := testServer(t, "tok")
	s.cfg.RateLimit = 2
	s.cfg.RateWindow = time.Minute
	router := s.Routes()

	do := func(bearer string) int {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.RemoteAddr = "127.0.0.1:9999"
		if bearer != "" {
			req.Header.Set("Authorization", "Bearer "+bearer)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, do("agent-a"))
	assert.Equal(t, http.StatusOK, do("agent-a"))
	assert.Equal(t, http.StatusTooManyRequests, do("agent-a"))

	// A different token gets its own bucket despite the shared address
	assert.Equal(t, http.StatusOK, do("agent-b"))
}

func TestRateLimit_WithoutTokenFallsBackToIP(t *testing.T) {
	s := testServer(t, "tok")
	s.cfg.RateLimit = 2
	s.cfg.RateWindow = time.Minute
	router := s.Routes()

	var last int
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.RemoteAddr = "127.0.0.1:9999"
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		last = rec.Code
	}
	assert.Equal(t, http.StatusTooManyRequests, last)
}
