package budget

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cjmorris/finfeed/internal/models"
)

// HTTPClient is a thin JSON shim over the budgeting service's API. The full
// vendor client library is out of scope; this covers exactly the three calls
// the sync path needs.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	token   string
}

func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *HTTPClient) Login(ctx context.Context, email, password, code string) error {
	var resp struct {
		Token string `json:"token"`
	}
	err := c.do(ctx, http.MethodPost, "/auth/login", map[string]string{
		"email":    email,
		"password": password,
		"totp":     code,
	}, &resp)
	if err != nil {
		return err
	}
	if resp.Token == "" {
		return fmt.Errorf("login response carried no session token")
	}
	c.token = resp.Token
	return nil
}

func (c *HTTPClient) AddTransaction(ctx context.Context, accountID, categoryID string, tx models.Transaction, updateBalance bool) error {
	body := map[string]any{
		"transaction":    tx,
		"category_id":    categoryID,
		"update_balance": updateBalance,
	}
	return c.do(ctx, http.MethodPost, "/accounts/"+accountID+"/transactions", body, nil)
}

func (c *HTTPClient) UpdateHoldings(ctx context.Context, accountID string, p models.Portfolio) error {
	return c.do(ctx, http.MethodPut, "/accounts/"+accountID+"/holdings", p, nil)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
