package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Shared validator instance (reused across all record types)
var validate = validator.New()

// Transaction is one scraped money movement, as extracted by the agent.
type Transaction struct {
	Date                string  `json:"date" validate:"required,datetime=2006-01-02"`
	UserAccount         string  `json:"user_account" validate:"required"`
	CounterpartyAccount string  `json:"counterparty_account" validate:"required"`
	Amount              float64 `json:"amount" validate:"required,gt=0"`
	Description         string  `json:"description,omitempty"`
}

func (t *Transaction) Validate() error {
	t.UserAccount = strings.TrimSpace(t.UserAccount)
	t.CounterpartyAccount = strings.TrimSpace(t.CounterpartyAccount)
	t.Description = strings.TrimSpace(t.Description)
	if err := validate.Struct(t); err != nil {
		return fmt.Errorf("invalid transaction: %w", err)
	}
	return nil
}

// key is the full-field identity used when diffing logs. The amount keeps
// full float precision so sub-cent differences stay distinct.
func (t Transaction) key() string {
	return fmt.Sprintf("%s|%s|%s|%s|%s",
		t.Date, t.UserAccount, t.CounterpartyAccount,
		strconv.FormatFloat(t.Amount, 'g', -1, 64), t.Description)
}

// TransactionLog is an ordered scrape of an account's transaction history.
type TransactionLog struct {
	Transactions []Transaction `json:"transactions"`
}

// UnmarshalJSON accepts both the wrapped form and a bare transaction array,
// which is what the agent emits for list-shaped subtasks.
func (l *TransactionLog) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '[' {
		return json.Unmarshal(b, &l.Transactions)
	}
	type alias TransactionLog
	var a alias
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	*l = TransactionLog(a)
	return nil
}

func (l *TransactionLog) Validate() error {
	for i := range l.Transactions {
		if err := l.Transactions[i].Validate(); err != nil {
			return fmt.Errorf("transaction %d: %w", i, err)
		}
	}
	return nil
}

// Diff returns the transactions present in l but absent from old.
// Two scrapes of the same account overlap heavily; the delta is what still
// needs to be pushed to the budgeting service.
func (l TransactionLog) Diff(old TransactionLog) TransactionLog {
	seen := make(map[string]struct{}, len(old.Transactions))
	for _, tx := range old.Transactions {
		seen[tx.key()] = struct{}{}
	}
	var diff TransactionLog
	for _, tx := range l.Transactions {
		if _, ok := seen[tx.key()]; !ok {
			diff.Transactions = append(diff.Transactions, tx)
		}
	}
	return diff
}

// Holding is one portfolio position.
type Holding struct {
	Ticker    string  `json:"stock_ticker" validate:"required,alpha"`
	Shares    float64 `json:"shares" validate:"required,gt=0"`
	HoldingID string  `json:"holding_id,omitempty"`
}

func (h *Holding) Validate() error {
	h.Ticker = strings.ToUpper(strings.TrimSpace(h.Ticker))
	if err := validate.Struct(h); err != nil {
		return fmt.Errorf("invalid holding: %w", err)
	}
	return nil
}

// Portfolio is a full scrape of an account's positions.
type Portfolio struct {
	Holdings []Holding `json:"holdings"`
}

func (p *Portfolio) Validate() error {
	seen := make(map[string]struct{}, len(p.Holdings))
	for i := range p.Holdings {
		if err := p.Holdings[i].Validate(); err != nil {
			return fmt.Errorf("holding %d: %w", i, err)
		}
		ticker := p.Holdings[i].Ticker
		if _, ok := seen[ticker]; ok {
			return fmt.Errorf("duplicate stock ticker %s", ticker)
		}
		seen[ticker] = struct{}{}
	}
	return nil
}

// ByTicker returns the holding for a ticker, or nil.
func (p *Portfolio) ByTicker(ticker string) *Holding {
	ticker = strings.ToUpper(ticker)
	for i := range p.Holdings {
		if p.Holdings[i].Ticker == ticker {
			return &p.Holdings[i]
		}
	}
	return nil
}
