package automation

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/cjmorris/finfeed/internal/config"
	"github.com/cjmorris/finfeed/internal/models"
)

// BuildTasks assembles the requested automations from configuration.
// An empty names slice selects every known automation.
func BuildTasks(cfg *config.Config, names []string) ([]Task, error) {
	if len(names) == 0 {
		for name := range builders {
			names = append(names, name)
		}
		sort.Strings(names)
	}

	tasks := make([]Task, 0, len(names))
	for _, name := range names {
		build, ok := builders[name]
		if !ok {
			return nil, fmt.Errorf("unknown automation %q", name)
		}
		svc, err := cfg.Service(name)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, build(svc))
	}
	return tasks, nil
}

var builders = map[string]func(config.ServiceConfig) Task{
	"human_interest": humanInterestTask,
	"rippling":       ripplingTask,
}

func humanInterestTask(svc config.ServiceConfig) Task {
	return Task{
		Name:        svc.Name,
		Description: "Extract data from the Human Interest 401k platform",
		SubTasks: []SubTask{
			loginSubTask(svc),
			{
				Name:         "portfolio",
				Description:  "Extract portfolio holdings",
				Prompt:       pagePrompt(svc.Pages["portfolio"], "portfolio holdings as JSON: {\"holdings\": [{\"stock_ticker\", \"shares\"}]}"),
				SaveOutput:   true,
				ClearSession: true,
				Validate:     validatePortfolio,
			},
			{
				Name:         "transactions",
				Description:  "Extract transaction history",
				Prompt:       pagePrompt(svc.Pages["transactions"], "transactions as a JSON array of {\"date\", \"user_account\", \"counterparty_account\", \"amount\"}"),
				SaveOutput:   true,
				ClearSession: true,
				Validate:     validateTransactions,
			},
		},
	}
}

func ripplingTask(svc config.ServiceConfig) Task {
	return Task{
		Name:        svc.Name,
		Description: "Extract HSA and commuter benefit data from Rippling",
		SubTasks: []SubTask{
			loginSubTask(svc),
			{
				Name:         "hsa_transactions",
				Description:  "Extract HSA transactions",
				Prompt:       pagePrompt(svc.Pages["hsa_transactions"], "HSA transactions as a JSON array of {\"date\", \"user_account\", \"counterparty_account\", \"amount\"}"),
				SaveOutput:   true,
				ClearSession: true,
				Validate:     validateTransactions,
			},
			{
				Name:         "hsa_portfolio",
				Description:  "Extract HSA portfolio",
				Prompt:       pagePrompt(svc.Pages["hsa_portfolio"], "HSA holdings as JSON: {\"holdings\": [{\"stock_ticker\", \"shares\"}]}"),
				SaveOutput:   true,
				ClearSession: true,
				Validate:     validatePortfolio,
			},
			{
				Name:         "commuter_benefits",
				Description:  "Extract commuter benefit activity",
				Prompt:       pagePrompt(svc.Pages["commuter_benefits"], "commuter benefit activity as a JSON array of {\"date\", \"user_account\", \"counterparty_account\", \"amount\"}"),
				SaveOutput:   true,
				ClearSession: true,
				Validate:     validateTransactions,
			},
		},
	}
}

func loginSubTask(svc config.ServiceConfig) SubTask {
	var b strings.Builder
	fmt.Fprintf(&b, "Open %s and log in as %s with password %s.\n", svc.BaseURL, svc.Email, svc.Password)
	fmt.Fprintf(&b, "If a one-time passcode is requested, fetch it with the generate_otp tool for service %q.\n", svc.Name)
	b.WriteString("Stop once the account dashboard is visible.")
	return SubTask{
		Name:         "login",
		Description:  "Log into " + svc.Name,
		Prompt:       b.String(),
		ClearSession: true,
	}
}

func pagePrompt(pageURL, shape string) string {
	return fmt.Sprintf("Navigate to %s and report the %s. Reply with only the JSON document.", pageURL, shape)
}

func validateTransactions(b []byte) error {
	var log models.TransactionLog
	if err := json.Unmarshal(b, &log); err != nil {
		return err
	}
	return log.Validate()
}

func validatePortfolio(b []byte) error {
	var p models.Portfolio
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	return p.Validate()
}
