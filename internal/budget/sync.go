// Package budget pushes scraped records to the budgeting service.
// The service client itself is an external collaborator behind the Client
// interface; this package owns the diff-and-push logic around it.
package budget

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/cjmorris/finfeed/internal/config"
	"github.com/cjmorris/finfeed/internal/models"
	"github.com/cjmorris/finfeed/internal/totp"
)

// Client is the budgeting-service API surface this package needs.
type Client interface {
	Login(ctx context.Context, email, password, code string) error
	AddTransaction(ctx context.Context, accountID, categoryID string, tx models.Transaction, updateBalance bool) error
	UpdateHoldings(ctx context.Context, accountID string, p models.Portfolio) error
}

type Kind string

const (
	KindTransactions Kind = "transactions"
	KindPortfolio    Kind = "portfolio"
)

// Target maps one automation output stream to a budgeting-service account.
type Target struct {
	Name          string
	Kind          Kind
	TaskName      string
	SubtaskName   string
	AccountID     string
	CategoryID    string
	UpdateBalance bool
}

// BuildTargets assembles the fixed sync plan from configuration.
func BuildTargets(cfg *config.Config) []Target {
	hi := cfg.Budget.Accounts["human_interest"]
	umb := cfg.Budget.Accounts["elevate_umb"]
	commuter := cfg.Budget.Accounts["rippling_commuter"]

	return []Target{
		{
			Name:        "Human Interest Transactions",
			Kind:        KindTransactions,
			TaskName:    "human_interest",
			SubtaskName: "transactions",
			AccountID:   hi.AccountID,
			CategoryID:  hi.CategoryID,
		},
		{
			Name:        "Human Interest Portfolio",
			Kind:        KindPortfolio,
			TaskName:    "human_interest",
			SubtaskName: "portfolio",
			AccountID:   hi.AccountID,
		},
		{
			Name:        "Rippling HSA Transactions",
			Kind:        KindTransactions,
			TaskName:    "rippling",
			SubtaskName: "hsa_transactions",
			AccountID:   umb.AccountID,
			CategoryID:  umb.CategoryID,
		},
		{
			Name:        "Rippling HSA Portfolio",
			Kind:        KindPortfolio,
			TaskName:    "rippling",
			SubtaskName: "hsa_portfolio",
			AccountID:   umb.AccountID,
		},
		{
			Name:          "Rippling Commuter Benefits",
			Kind:          KindTransactions,
			TaskName:      "rippling",
			SubtaskName:   "commuter_benefits",
			AccountID:     commuter.AccountID,
			CategoryID:    commuter.CategoryID,
			UpdateBalance: true,
		},
	}
}

type Syncer struct {
	client  Client
	creds   config.BudgetConfig
	secret  string // resolved base32 MFA secret
	targets []Target
	baseDir string
	logger  *slog.Logger
	now     func() time.Time
}

func NewSyncer(client Client, creds config.BudgetConfig, secret string, targets []Target, baseDir string, logger *slog.Logger) *Syncer {
	return &Syncer{
		client:  client,
		creds:   creds,
		secret:  secret,
		targets: targets,
		baseDir: baseDir,
		logger:  logger,
		now:     time.Now,
	}
}

// Run logs into the budgeting service with a fresh passcode and pushes each
// target. Failing targets are logged and the rest still run.
func (s *Syncer) Run(ctx context.Context, dryRun bool) error {
	code, err := totp.GenerateFromSecret(s.secret, s.now())
	if err != nil {
		return fmt.Errorf("budget MFA passcode: %w", err)
	}
	if err := s.client.Login(ctx, s.creds.Email, s.creds.Password, code.Code); err != nil {
		return fmt.Errorf("budget login: %w", err)
	}

	var errs []error
	for _, t := range s.targets {
		var err error
		switch t.Kind {
		case KindTransactions:
			err = s.syncTransactions(ctx, t, dryRun)
		case KindPortfolio:
			err = s.syncPortfolio(ctx, t, dryRun)
		default:
			err = fmt.Errorf("unknown sync kind %q", t.Kind)
		}
		if err != nil {
			s.logger.Error("sync target failed",
				slog.String("target", t.Name),
				slog.Any("error", err))
			errs = append(errs, fmt.Errorf("%s: %w", t.Name, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Syncer) syncTransactions(ctx context.Context, t Target, dryRun bool) error {
	pattern := filepath.Join(s.baseDir, t.TaskName, t.SubtaskName, "*.json")
	files, err := models.LatestFiles(pattern, 2)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no output files at %s", pattern)
	}

	var newLog, oldLog models.TransactionLog
	if err := models.ReadFile(files[0], &newLog); err != nil {
		return err
	}
	if len(files) > 1 {
		if err := models.ReadFile(files[1], &oldLog); err != nil {
			return err
		}
	}
	if err := newLog.Validate(); err != nil {
		return err
	}

	delta := newLog.Diff(oldLog)
	s.logger.Info("transaction delta computed",
		slog.String("target", t.Name),
		slog.Int("new", len(newLog.Transactions)),
		slog.Int("delta", len(delta.Transactions)))

	for _, tx := range delta.Transactions {
		if dryRun {
			s.logger.Info("would add transaction",
				slog.String("target", t.Name),
				slog.String("date", tx.Date),
				slog.String("counterparty", tx.CounterpartyAccount),
				slog.Float64("amount", tx.Amount))
			continue
		}
		if err := s.client.AddTransaction(ctx, t.AccountID, t.CategoryID, tx, t.UpdateBalance); err != nil {
			return fmt.Errorf("add transaction %s/%s: %w", tx.Date, tx.CounterpartyAccount, err)
		}
	}
	return nil
}

func (s *Syncer) syncPortfolio(ctx context.Context, t Target, dryRun bool) error {
	pattern := filepath.Join(s.baseDir, t.TaskName, t.SubtaskName, "*.json")
	files, err := models.LatestFiles(pattern, 1)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no output files at %s", pattern)
	}

	var portfolio models.Portfolio
	if err := models.ReadFile(files[0], &portfolio); err != nil {
		return err
	}
	if err := portfolio.Validate(); err != nil {
		return err
	}

	if dryRun {
		s.logger.Info("would sync portfolio",
			slog.String("target", t.Name),
			slog.Int("holdings", len(portfolio.Holdings)))
		return nil
	}
	return s.client.UpdateHoldings(ctx, t.AccountID, portfolio)
}
