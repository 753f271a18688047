package budget

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cjmorris/finfeed/internal/config"
	"github.com/cjmorris/finfeed/internal/models"
	"github.com/cjmorris/finfeed/internal/totp"
)

const testSecret = "GEZDGNBVGY3TQOJQ"

type addedTx struct {
	AccountID     string
	CategoryID    string
	Tx            models.Transaction
	UpdateBalance bool
}

type fakeClient struct {
	loginCode  string
	loginErr   error
	added      []addedTx
	portfolios map[string]models.Portfolio
	addErr     error
}

func (c *fakeClient) Login(_ context.Context, _, _, code string) error {
	c.loginCode = code
	return c.loginErr
}

func (c *fakeClient) AddTransaction(_ context.Context, accountID, categoryID string, tx models.Transaction, updateBalance bool) error {
	if c.addErr != nil {
		return c.addErr
	}
	c.added = append(c.added, addedTx{accountID, categoryID, tx, updateBalance})
	return nil
}

func (c *fakeClient) UpdateHoldings(_ context.Context, accountID string, p models.Portfolio) error {
	if c.portfolios == nil {
		c.portfolios = map[string]models.Portfolio{}
	}
	c.portfolios[accountID] = p
	return nil
}

func testSyncer(t *testing.T, client Client, targets []Target) (*Syncer, string) {
	t.Helper()
	dir := t.TempDir()
	s := NewSyncer(client, config.BudgetConfig{Email: "me@example.com", Password: "pw"},
		testSecret, targets, dir, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return s, dir
}

func writeOutput(t *testing.T, dir, task, subtask string, v any, at time.Time) {
	t.Helper()
	_, err := models.WriteTimestamped(filepath.Join(dir, task, subtask), subtask, v, at)
	require.NoError(t, err)
}

func tx(date, counterparty string, amount float64) models.Transaction {
	return models.Transaction{
		Date:                date,
		UserAccount:         "HSA",
		CounterpartyAccount: counterparty,
		Amount:              amount,
	}
}

func TestRun_LoginUsesCurrentPasscode(t *testing.T) {
	client := &fakeClient{}
	s, _ := testSyncer(t, client, nil)

	s.now = func() time.Time { return time.Unix(59, 0) }
	require.NoError(t, s.Run(context.Background(), false))

	want, err := totp.GenerateFromSecret(testSecret, time.Unix(59, 0))
	require.NoError(t, err)
	assert.Equal(t, want.Code, client.loginCode)
}

func TestRun_LoginFailureStopsSync(t *testing.T) {
	client := &fakeClient{loginErr: errors.New("bad credentials")}
	s, dir := testSyncer(t, client, []Target{{
		Name: "HSA", Kind: KindTransactions, TaskName: "rippling", SubtaskName: "hsa_transactions",
	}})
	writeOutput(t, dir, "rippling", "hsa_transactions",
		models.TransactionLog{Transactions: []models.Transaction{tx("2026-08-01", "CVS", 10)}},
		time.Now())

	err := s.Run(context.Background(), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "budget login")
	assert.Empty(t, client.added)
}

func TestRun_PushesOnlyTheDelta(t *testing.T) {
	client := &fakeClient{}
	target := Target{
		Name:        "HSA Transactions",
		Kind:        KindTransactions,
		TaskName:    "rippling",
		SubtaskName: "hsa_transactions",
		AccountID:   "acct-hsa",
		CategoryID:  "cat-medical",
	}
	s, dir := testSyncer(t, client, []Target{target})

	old := models.TransactionLog{Transactions: []models.Transaction{
		tx("2026-08-01", "CVS", 10),
	}}
	current := models.TransactionLog{Transactions: []models.Transaction{
		tx("2026-08-01", "CVS", 10),
		tx("2026-08-02", "Walgreens", 25.50),
	}}
	writeOutput(t, dir, "rippling", "hsa_transactions", old, time.Date(2026, 8, 1, 9, 0, 0, 0, time.Local))
	writeOutput(t, dir, "rippling", "hsa_transactions", current, time.Date(2026, 8, 2, 9, 0, 0, 0, time.Local))

	require.NoError(t, s.Run(context.Background(), false))

	require.Len(t, client.added, 1)
	assert.Equal(t, "acct-hsa", client.added[0].AccountID)
	assert.Equal(t, "cat-medical", client.added[0].CategoryID)
	assert.Equal(t, "Walgreens", client.added[0].Tx.CounterpartyAccount)
	assert.False(t, client.added[0].UpdateBalance)
}

func TestRun_FirstScrapePushesEverything(t *testing.T) {
	client := &fakeClient{}
	s, dir := testSyncer(t, client, []Target{{
		Name: "Commuter", Kind: KindTransactions, TaskName: "rippling", SubtaskName: "commuter_benefits",
		AccountID: "acct-commuter", UpdateBalance: true,
	}})

	writeOutput(t, dir, "rippling", "commuter_benefits", models.TransactionLog{Transactions: []models.Transaction{
		tx("2026-08-01", "Metro", 2.75),
		tx("2026-08-02", "Metro", 2.75),
	}}, time.Now())

	require.NoError(t, s.Run(context.Background(), false))
	require.Len(t, client.added, 2)
	assert.True(t, client.added[0].UpdateBalance)
}

func TestRun_DryRunMakesNoWrites(t *testing.T) {
	client := &fakeClient{addErr: errors.New("should not be called")}
	s, dir := testSyncer(t, client, []Target{
		{Name: "TX", Kind: KindTransactions, TaskName: "rippling", SubtaskName: "hsa_transactions"},
		{Name: "PF", Kind: KindPortfolio, TaskName: "rippling", SubtaskName: "hsa_portfolio"},
	})

	writeOutput(t, dir, "rippling", "hsa_transactions",
		models.TransactionLog{Transactions: []models.Transaction{tx("2026-08-01", "CVS", 10)}}, time.Now())
	writeOutput(t, dir, "rippling", "hsa_portfolio",
		models.Portfolio{Holdings: []models.Holding{{Ticker: "VTI", Shares: 2}}}, time.Now())

	require.NoError(t, s.Run(context.Background(), true))
	assert.Empty(t, client.added)
	assert.Empty(t, client.portfolios)
}

func TestRun_PortfolioUsesLatestScrape(t *testing.T) {
	client := &fakeClient{}
	s, dir := testSyncer(t, client, []Target{{
		Name: "401k Portfolio", Kind: KindPortfolio, TaskName: "human_interest", SubtaskName: "portfolio",
		AccountID: "acct-401k",
	}})

	writeOutput(t, dir, "human_interest", "portfolio",
		models.Portfolio{Holdings: []models.Holding{{Ticker: "VTI", Shares: 1}}},
		time.Date(2026, 8, 1, 9, 0, 0, 0, time.Local))
	writeOutput(t, dir, "human_interest", "portfolio",
		models.Portfolio{Holdings: []models.Holding{{Ticker: "VTI", Shares: 3}}},
		time.Date(2026, 8, 2, 9, 0, 0, 0, time.Local))

	require.NoError(t, s.Run(context.Background(), false))

	got, ok := client.portfolios["acct-401k"]
	require.True(t, ok)
	require.Len(t, got.Holdings, 1)
	assert.Equal(t, 3.0, got.Holdings[0].Shares)
}

func TestRun_MissingOutputsReported(t *testing.T) {
	client := &fakeClient{}
	s, _ := testSyncer(t, client, []Target{{
		Name: "Empty", Kind: KindTransactions, TaskName: "rippling", SubtaskName: "hsa_transactions",
	}})

	err := s.Run(context.Background(), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no output files")
}

func TestRun_OneFailingTargetDoesNotBlockOthers(t *testing.T) {
	client := &fakeClient{}
	s, dir := testSyncer(t, client, []Target{
		{Name: "Missing", Kind: KindTransactions, TaskName: "rippling", SubtaskName: "hsa_transactions"},
		{Name: "Portfolio", Kind: KindPortfolio, TaskName: "human_interest", SubtaskName: "portfolio", AccountID: "acct"},
	})
	writeOutput(t, dir, "human_interest", "portfolio",
		models.Portfolio{Holdings: []models.Holding{{Ticker: "BND", Shares: 5}}}, time.Now())

	err := s.Run(context.Background(), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Missing")
	assert.Contains(t, client.portfolios, "acct")
}

func TestRun_InvalidSecret(t *testing.T) {
	client := &fakeClient{}
	s, _ := testSyncer(t, client, nil)
	s.secret = "NOTBASE32!"

	err := s.Run(context.Background(), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "budget MFA passcode")
}

func TestBuildTargets(t *testing.T) {
	t.Setenv("FINFEED_ENV_FILE", filepath.Join(t.TempDir(), "absent.env"))
	t.Setenv("BUDGET_ELEVATE_UMB_ACCOUNT_ID", "acct-umb")
	t.Setenv("BUDGET_RIPPLING_COMMUTER_ACCOUNT_ID", "acct-commuter")

	cfg, err := config.Load()
	require.NoError(t, err)

	targets := BuildTargets(cfg)
	require.Len(t, targets, 5)

	byName := map[string]Target{}
	for _, target := range targets {
		byName[target.Name] = target
	}
	assert.Equal(t, "acct-umb", byName["Rippling HSA Transactions"].AccountID)
	assert.Equal(t, "acct-commuter", byName["Rippling Commuter Benefits"].AccountID)
	assert.True(t, byName["Rippling Commuter Benefits"].UpdateBalance)
	assert.False(t, byName["Rippling HSA Transactions"].UpdateBalance)
	assert.Equal(t, KindPortfolio, byName["Human Interest Portfolio"].Kind)
}
