// Package automation dispatches named scrape tasks to an external
// computer-use agent and persists the structured output it extracts.
package automation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cjmorris/finfeed/internal/models"
)

// Agent drives a browser through a single prompted task. The implementation
// is a vendor computer-use framework outside this module; its failures pass
// through untranslated.
type Agent interface {
	Run(ctx context.Context, prompt string) (string, error)
	ClearSession(ctx context.Context) error
}

// SubTask is one prompted step within a task.
type SubTask struct {
	Name         string
	Description  string
	Prompt       string
	SaveOutput   bool
	ClearSession bool
	// Validate checks the extracted JSON before it is persisted.
	Validate func([]byte) error
}

// Task is a named automation composed of sequential subtasks.
type Task struct {
	Name        string
	Description string
	SubTasks    []SubTask
}

type SubTaskResult struct {
	Name       string
	Success    bool
	Started    time.Time
	Finished   time.Time
	OutputPath string
	Err        error
}

type TaskResult struct {
	RunID    string
	Name     string
	Success  bool
	Started  time.Time
	Finished time.Time
	SubTasks []SubTaskResult
}

type Orchestrator struct {
	agent   Agent
	baseDir string
	logger  *slog.Logger
	now     func() time.Time
}

func NewOrchestrator(agent Agent, baseDir string, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		agent:   agent,
		baseDir: baseDir,
		logger:  logger,
		now:     time.Now,
	}
}

// RunAll executes tasks sequentially. A failing subtask is recorded and the
// run continues with the next one; the error summarizes any failures.
func (o *Orchestrator) RunAll(ctx context.Context, tasks []Task) ([]TaskResult, error) {
	results := make([]TaskResult, 0, len(tasks))
	failed := 0
	for _, task := range tasks {
		result := o.RunTask(ctx, task)
		results = append(results, result)
		if !result.Success {
			failed++
		}
	}
	if failed > 0 {
		return results, fmt.Errorf("%d of %d automations failed", failed, len(tasks))
	}
	return results, nil
}

func (o *Orchestrator) RunTask(ctx context.Context, task Task) TaskResult {
	runID := uuid.NewString()
	result := TaskResult{
		RunID:   runID,
		Name:    task.Name,
		Success: true,
		Started: o.now(),
	}

	o.logger.Info("task started",
		slog.String("task", task.Name),
		slog.String("run_id", runID),
		slog.Int("subtasks", len(task.SubTasks)))

	for i, st := range task.SubTasks {
		stResult := o.runSubTask(ctx, task.Name, st)
		result.SubTasks = append(result.SubTasks, stResult)
		if !stResult.Success {
			result.Success = false
			o.logger.Error("subtask failed",
				slog.String("task", task.Name),
				slog.String("subtask", st.Name),
				slog.Any("error", stResult.Err))
			// Keep going: later subtasks may not depend on this one
			continue
		}
		o.logger.Info("subtask completed",
			slog.String("task", task.Name),
			slog.String("subtask", st.Name),
			slog.Int("index", i+1),
			slog.String("duration", stResult.Finished.Sub(stResult.Started).String()))
	}

	result.Finished = o.now()
	o.logger.Info("task finished",
		slog.String("task", task.Name),
		slog.String("run_id", runID),
		slog.Bool("success", result.Success))
	return result
}

func (o *Orchestrator) runSubTask(ctx context.Context, taskName string, st SubTask) SubTaskResult {
	result := SubTaskResult{Name: st.Name, Started: o.now()}

	if st.ClearSession {
		if err := o.agent.ClearSession(ctx); err != nil {
			result.Err = fmt.Errorf("clear session: %w", err)
			result.Finished = o.now()
			return result
		}
	}

	output, err := o.agent.Run(ctx, st.Prompt)
	if err != nil {
		result.Err = fmt.Errorf("agent: %w", err)
		result.Finished = o.now()
		return result
	}

	if st.SaveOutput {
		payload, err := extractJSON(output)
		if err != nil {
			result.Err = err
			result.Finished = o.now()
			return result
		}
		if st.Validate != nil {
			if err := st.Validate([]byte(payload)); err != nil {
				result.Err = fmt.Errorf("output rejected: %w", err)
				result.Finished = o.now()
				return result
			}
		}
		dir := filepath.Join(o.baseDir, taskName, st.Name)
		path, err := models.WriteTimestamped(dir, st.Name, json.RawMessage(payload), o.now())
		if err != nil {
			result.Err = err
			result.Finished = o.now()
			return result
		}
		result.OutputPath = path
	}

	result.Success = true
	result.Finished = o.now()
	return result
}

// extractJSON pulls the JSON document out of the agent's free-form reply,
// tolerating markdown fences and surrounding prose.
func extractJSON(s string) (string, error) {
	s = strings.TrimSpace(s)
	start := strings.IndexAny(s, "[{")
	end := strings.LastIndexAny(s, "]}")
	if start < 0 || end <= start {
		return "", fmt.Errorf("no JSON payload in agent output")
	}
	candidate := s[start : end+1]
	if !json.Valid([]byte(candidate)) {
		return "", fmt.Errorf("agent output is not valid JSON")
	}
	return candidate, nil
}
