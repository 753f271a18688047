package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/cjmorris/finfeed/internal/secrets"
)

type Config struct {
	Env        string
	LogLevel   string
	EnvFile    string
	Passphrase string

	Outputs  OutputConfig
	Gateway  GatewayConfig
	Agent    AgentConfig
	Budget   BudgetConfig
	Services map[string]ServiceConfig
}

type OutputConfig struct {
	Dir string
}

type GatewayConfig struct {
	Addr       string
	Token      string
	RateLimit  int
	RateWindow time.Duration
}

type AgentConfig struct {
	Command   string
	APIKey    string
	Model     string
	MaxTokens int
}

// BudgetConfig holds credentials for the budgeting service the scraped data
// is pushed to, plus the mapping from sync targets to its account IDs.
type BudgetConfig struct {
	APIURL    string
	Email     string
	Password  string
	MFASecret string // base32, possibly sealed
	Accounts  map[string]BudgetAccount
}

type BudgetAccount struct {
	AccountID  string
	CategoryID string
}

// ServiceConfig describes one financial site the agent logs into.
type ServiceConfig struct {
	Name      string
	BaseURL   string
	Email     string
	Password  string
	MFASecret string // base32, possibly sealed
	Pages     map[string]string
}

// Data pages scraped per service; each maps to a <SERVICE>_<PAGE>_URL env var.
var servicePages = map[string][]string{
	"human_interest": {"transactions", "portfolio"},
	"rippling":       {"hsa_transactions", "hsa_portfolio", "commuter_benefits"},
}

// Budget account keys; each maps to BUDGET_<KEY>_ACCOUNT_ID / _CATEGORY_ID.
var budgetAccountKeys = []string{
	"human_interest",
	"elevate_umb",
	"rippling_commuter",
}

func Load() (*Config, error) {
	envFile := getEnv("FINFEED_ENV_FILE", ".env")
	_ = godotenv.Load(envFile)

	cfg := &Config{
		Env:        getEnv("ENV", "development"),
		LogLevel:   getEnv("LOG_LEVEL", "info"),
		EnvFile:    envFile,
		Passphrase: getEnv("FINFEED_PASSPHRASE", ""),
		Outputs: OutputConfig{
			Dir: getEnv("OUTPUT_DIR", "automation_outputs"),
		},
		Gateway: GatewayConfig{
			Addr:       getEnv("GATEWAY_ADDR", "127.0.0.1:8377"),
			Token:      getEnv("GATEWAY_TOKEN", ""),
			RateLimit:  getEnvAsInt("GATEWAY_RATE_LIMIT", 30),
			RateWindow: getEnvAsDuration("GATEWAY_RATE_WINDOW", time.Minute),
		},
		Agent: AgentConfig{
			Command:   getEnv("AGENT_CMD", ""),
			APIKey:    getEnv("AGENT_API_KEY", ""),
			Model:     getEnv("AGENT_MODEL", ""),
			MaxTokens: getEnvAsInt("AGENT_MAX_TOKENS", 4096),
		},
		Budget: BudgetConfig{
			APIURL:    getEnv("BUDGET_API_URL", ""),
			Email:     getEnv("BUDGET_EMAIL", ""),
			Password:  getEnv("BUDGET_PASSWORD", ""),
			MFASecret: getEnv("BUDGET_MFA_SECRET", ""),
			Accounts:  loadBudgetAccounts(),
		},
		Services: loadServices(),
	}

	return cfg, nil
}

func loadServices() map[string]ServiceConfig {
	services := make(map[string]ServiceConfig, len(servicePages))
	for name, pages := range servicePages {
		prefix := strings.ToUpper(name)
		svc := ServiceConfig{
			Name:      name,
			BaseURL:   getEnv(prefix+"_BASE_URL", ""),
			Email:     getEnv(prefix+"_EMAIL", ""),
			Password:  getEnv(prefix+"_PASSWORD", ""),
			MFASecret: getEnv(prefix+"_MFA_SECRET", ""),
			Pages:     make(map[string]string, len(pages)),
		}
		for _, page := range pages {
			svc.Pages[page] = getEnv(prefix+"_"+strings.ToUpper(page)+"_URL", "")
		}
		services[name] = svc
	}
	return services
}

func loadBudgetAccounts() map[string]BudgetAccount {
	accounts := make(map[string]BudgetAccount, len(budgetAccountKeys))
	for _, key := range budgetAccountKeys {
		prefix := "BUDGET_" + strings.ToUpper(key)
		accounts[key] = BudgetAccount{
			AccountID:  getEnv(prefix+"_ACCOUNT_ID", ""),
			CategoryID: getEnv(prefix+"_CATEGORY_ID", ""),
		}
	}
	return accounts
}

// Service returns the named service or an error listing what is configured.
func (c *Config) Service(name string) (ServiceConfig, error) {
	svc, ok := c.Services[name]
	if !ok {
		known := make([]string, 0, len(c.Services))
		for k := range c.Services {
			known = append(known, k)
		}
		return ServiceConfig{}, fmt.Errorf("unknown service %q (configured: %s)", name, strings.Join(known, ", "))
	}
	return svc, nil
}

// ResolveSecret returns the usable base32 MFA secret for a service, opening
// the sealed form when a passphrase is configured. A missing secret is a hard
// error: a financial-account credential is never guessed or defaulted.
func (c *Config) ResolveSecret(service string) (string, error) {
	var stored string
	switch service {
	case "budget":
		stored = c.Budget.MFASecret
	default:
		svc, err := c.Service(service)
		if err != nil {
			return "", err
		}
		stored = svc.MFASecret
	}
	if stored == "" {
		return "", fmt.Errorf("no MFA secret configured for service %q", service)
	}
	secret, err := secrets.Open(stored, c.Passphrase)
	if err != nil {
		return "", fmt.Errorf("resolve secret for %q: %w", service, err)
	}
	return secret, nil
}

// SecretEnvVar is the .env variable name a service's MFA secret lives under.
func SecretEnvVar(service string) string {
	if service == "budget" {
		return "BUDGET_MFA_SECRET"
	}
	return strings.ToUpper(service) + "_MFA_SECRET"
}

// SaveSecret upserts a variable in the .env file. Persistence is an explicit
// call made by the CLI, never a side effect of decoding a QR code.
func SaveSecret(envPath, name, value string) error {
	vars := map[string]string{}
	if _, err := os.Stat(envPath); err == nil {
		vars, err = godotenv.Read(envPath)
		if err != nil {
			return fmt.Errorf("read %s: %w", envPath, err)
		}
	}
	vars[name] = value
	if err := godotenv.Write(vars, envPath); err != nil {
		return fmt.Errorf("write %s: %w", envPath, err)
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}
