package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cjmorris/finfeed/internal/automation"
	"github.com/cjmorris/finfeed/internal/budget"
	"github.com/cjmorris/finfeed/internal/config"
	"github.com/cjmorris/finfeed/internal/gateway"
	"github.com/cjmorris/finfeed/internal/otpauth"
	"github.com/cjmorris/finfeed/internal/qr"
	"github.com/cjmorris/finfeed/internal/secrets"
	"github.com/cjmorris/finfeed/internal/totp"
	pkglogger "github.com/cjmorris/finfeed/pkg/logger"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	root := &cobra.Command{
		Use:           "finfeed",
		Short:         "Personal finance scraping and sync toolkit",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newExtractCmd(logger),
		newOTPCmd(),
		newVerifyCmd(),
		newQRCmd(),
		newServeCmd(logger),
		newRunCmd(logger),
		newSyncCmd(logger),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newExtractCmd(logger *slog.Logger) *cobra.Command {
	var saveAs string
	var account string

	cmd := &cobra.Command{
		Use:   "extract <image>",
		Short: "Extract a TOTP secret from an authenticator QR code image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ex, err := qr.Extract(args[0])
			if err != nil {
				return err
			}

			secret, err := pickSecret(ex, account)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), secret)

			if saveAs == "" {
				return nil
			}
			value := secret
			if cfg.Passphrase != "" {
				if value, err = secrets.Seal(secret, cfg.Passphrase); err != nil {
					return err
				}
			}
			envVar := config.SecretEnvVar(saveAs)
			if err := config.SaveSecret(cfg.EnvFile, envVar, value); err != nil {
				return err
			}
			logger.Info("secret saved",
				slog.String("file", cfg.EnvFile),
				slog.String("var", envVar),
				slog.String("secret", pkglogger.MaskSecret(secret)),
				slog.Bool("sealed", cfg.Passphrase != ""))
			return nil
		},
	}

	cmd.Flags().StringVar(&saveAs, "save", "", "persist the secret to .env under this service name")
	cmd.Flags().StringVar(&account, "account", "", "account to pick from a multi-account migration payload")
	return cmd
}

// pickSecret selects the single secret out of an extraction, refusing to
// guess when a migration export carries several accounts.
func pickSecret(ex *qr.Extraction, account string) (string, error) {
	if ex.URI != nil {
		return ex.URI.Secret, nil
	}

	if account == "" {
		if len(ex.Entries) == 1 {
			return ex.Entries[0].Secret, nil
		}
		names := make([]string, 0, len(ex.Entries))
		for _, e := range ex.Entries {
			names = append(names, e.Name)
		}
		return "", fmt.Errorf("migration payload holds %d accounts (%s); pick one with --account",
			len(ex.Entries), strings.Join(names, ", "))
	}

	for _, e := range ex.Entries {
		if strings.EqualFold(e.Name, account) || strings.EqualFold(e.Issuer, account) {
			return e.Secret, nil
		}
	}
	return "", fmt.Errorf("no account %q in migration payload", account)
}

func newOTPCmd() *cobra.Command {
	var rawSecret string

	cmd := &cobra.Command{
		Use:   "otp [service]",
		Short: "Print the current passcode for a configured service",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := resolveSecretArg(args, rawSecret)
			if err != nil {
				return err
			}
			code, err := totp.GenerateFromSecret(secret, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), code.Code)
			return nil
		},
	}

	cmd.Flags().StringVar(&rawSecret, "secret", "", "generate from this base32 secret instead of a configured service")
	return cmd
}

func newVerifyCmd() *cobra.Command {
	var window uint

	cmd := &cobra.Command{
		Use:   "verify <service> <code>",
		Short: "Check a passcode against a configured service's secret",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			secret, err := cfg.ResolveSecret(args[0])
			if err != nil {
				return err
			}
			tcfg, err := totp.NewConfigFromSecret(secret)
			if err != nil {
				return err
			}
			ok, err := totp.Verify(tcfg, args[1], time.Now(), window)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("passcode is not valid for %s within ±%d steps", args[0], window)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "valid")
			return nil
		},
	}

	cmd.Flags().UintVar(&window, "window", 1, "accepted clock-skew window in time steps")
	return cmd
}

func newQRCmd() *cobra.Command {
	var out string
	var issuer string
	var size int

	cmd := &cobra.Command{
		Use:   "qr <service>",
		Short: "Render a stored secret back into a provisioning QR code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			secret, err := cfg.ResolveSecret(args[0])
			if err != nil {
				return err
			}
			uri := &otpauth.ProvisioningURI{
				Label:  args[0],
				Issuer: issuer,
				Secret: otpauth.NormalizeSecret(secret),
				Digits: otpauth.DefaultDigits,
				Period: otpauth.DefaultPeriod,
			}
			png, err := qr.EncodePNG(uri.String(), size)
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, png, 0o600); err != nil {
				return fmt.Errorf("write %s: %w", out, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "output", "o", "qr.png", "output PNG path")
	cmd.Flags().StringVar(&issuer, "issuer", "", "issuer to embed in the provisioning URI")
	cmd.Flags().IntVar(&size, "size", 256, "image size in pixels")
	return cmd
}

func newServeCmd(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the loopback OTP gateway for the browser agent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.Gateway.Token == "" {
				return fmt.Errorf("GATEWAY_TOKEN must be set before serving passcodes")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return gateway.New(cfg.Gateway, cfg.ResolveSecret, logger).ListenAndServe(ctx)
		},
	}
}

func newRunCmd(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "run [automation...]",
		Short: "Run scrape automations through the computer-use agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.Agent.Command == "" {
				return fmt.Errorf("AGENT_CMD must point at the computer-use harness")
			}
			tasks, err := automation.BuildTasks(cfg, args)
			if err != nil {
				return err
			}
			agent := &automation.ExecAgent{
				Path: cfg.Agent.Command,
				Env:  []string{"AGENT_API_KEY=" + cfg.Agent.APIKey},
			}
			orch := automation.NewOrchestrator(agent, cfg.Outputs.Dir, logger)
			_, err = orch.RunAll(cmd.Context(), tasks)
			return err
		},
	}
}

func newSyncCmd(logger *slog.Logger) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Push scraped outputs to the budgeting service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.Budget.APIURL == "" {
				return fmt.Errorf("BUDGET_API_URL is not configured")
			}
			secret, err := cfg.ResolveSecret("budget")
			if err != nil {
				return err
			}
			syncer := budget.NewSyncer(
				budget.NewHTTPClient(cfg.Budget.APIURL),
				cfg.Budget,
				secret,
				budget.BuildTargets(cfg),
				cfg.Outputs.Dir,
				logger,
			)
			return syncer.Run(cmd.Context(), dryRun)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "log intended writes without calling the service")
	return cmd
}

func resolveSecretArg(args []string, rawSecret string) (string, error) {
	if rawSecret != "" {
		return rawSecret, nil
	}
	if len(args) == 0 {
		return "", fmt.Errorf("a service name or --secret is required")
	}
	cfg, err := config.Load()
	if err != nil {
		return "", err
	}
	return cfg.ResolveSecret(args[0])
}
