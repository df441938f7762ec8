package core

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kcconfig/kcconfig/internal/action"
	"github.com/kcconfig/kcconfig/internal/audit"
	"github.com/kcconfig/kcconfig/internal/db"
	sdk "github.com/kcconfig/kcconfig/pkg/sdk/v1"
)

// ActionsFile is the top-level action list, relative to the source directory.
const ActionsFile = "keycloak.json"

// auditable is implemented by remotes that record their own calls.
type auditable interface {
	SetAudit(al *audit.Logger, runUUID string)
}

// Engine holds the constructed actions for one environment.
type Engine struct {
	env      string
	actions  []sdk.Action
	logger   zerolog.Logger
	auditDB  *sql.DB
	operator string
	baseURL  string
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger. Actions receive it through the context.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithAuditDB records runs and their events in db.
func WithAuditDB(db *sql.DB, operator string) Option {
	return func(e *Engine) {
		e.auditDB = db
		e.operator = operator
	}
}

// WithBaseURL records the target server in run history.
func WithBaseURL(u string) Option {
	return func(e *Engine) { e.baseURL = u }
}

// LoadActionsConfig returns the parsed action list document.
func LoadActionsConfig(loader sdk.ConfigLoader) (any, error) {
	return loader.LoadConfig(ActionsFile)
}

// Descriptors extracts the action descriptors from a parsed action list: a
// top-level array, or an object with an "actions" array. Names need not be
// unique.
func Descriptors(cfg any) ([]sdk.Descriptor, error) {
	list, ok := cfg.([]any)
	if !ok {
		obj, isObj := cfg.(map[string]any)
		if !isObj {
			return nil, &sdk.ConfigurationError{Path: ActionsFile, Reason: "expected an array of actions"}
		}
		list, ok = obj["actions"].([]any)
		if !ok {
			return nil, &sdk.ConfigurationError{Path: ActionsFile, Reason: `expected an "actions" array`}
		}
	}

	out := make([]sdk.Descriptor, 0, len(list))
	for i, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, &sdk.ConfigurationError{Path: ActionsFile, Reason: fmt.Sprintf("action %d is not an object", i)}
		}
		desc := sdk.Descriptor(m)
		if err := desc.Require(desc.Name(), "name", "type"); err != nil {
			return nil, err
		}
		out = append(out, desc)
	}
	return out, nil
}

// NewEngine loads the action list through loader and constructs every action
// that participates in env. The first construction error aborts.
func NewEngine(env string, loader sdk.ConfigLoader, reg *action.Registry, opts ...Option) (*Engine, error) {
	e := &Engine{env: env, logger: zerolog.Nop()}
	for _, o := range opts {
		o(e)
	}

	cfg, err := LoadActionsConfig(loader)
	if err != nil {
		return nil, err
	}
	descs, err := Descriptors(cfg)
	if err != nil {
		return nil, err
	}
	for _, d := range descs {
		a, err := reg.Build(d, env, loader)
		if err != nil {
			return nil, err
		}
		if a == nil {
			continue
		}
		e.actions = append(e.actions, a)
	}
	e.logger.Debug().Int("actions", len(e.actions)).Str("env", env).Msg("engine ready")
	return e, nil
}

// IsEmpty reports whether there is nothing to execute.
func (e *Engine) IsEmpty() bool { return len(e.actions) == 0 }

// Actions returns the constructed actions in execution order.
func (e *Engine) Actions() []sdk.Action {
	out := make([]sdk.Action, len(e.actions))
	copy(out, e.actions)
	return out
}

// Execute runs every action in order. The first failure stops the run; work
// already applied is not rolled back. The returned Run is never nil.
func (e *Engine) Execute(ctx context.Context, remote sdk.Remote) (*Run, error) {
	run := &Run{
		UUID:        uuid.New().String(),
		Environment: e.env,
		Status:      RunRunning,
		StartedAt:   time.Now().UTC(),
	}
	log := e.logger.With().Str("run", run.UUID).Logger()

	al, err := e.startRun(run, remote)
	if err != nil {
		run.Status = RunError
		return run, err
	}

	ctx = log.WithContext(ctx)
	for _, a := range e.actions {
		res := ActionResult{Name: a.Name(), Status: RunRunning, StartedAt: time.Now().UTC()}
		alog := log.With().Str("action", a.Name()).Logger()
		actx := sdk.WithActionName(alog.WithContext(ctx), a.Name())

		alog.Info().Msg("executing action")
		e.audit(al, audit.EventActionStarted, run.UUID, a.Name(), nil)

		err := a.Execute(actx, remote)
		res.CompletedAt = time.Now().UTC()
		if err != nil {
			res.Status = RunError
			res.Error = err.Error()
			run.Results = append(run.Results, res)
			alog.Error().Err(err).Msg("action failed")
			e.audit(al, audit.EventActionFailed, run.UUID, a.Name(), map[string]string{"error": err.Error()})
			e.finishRun(al, run, RunError, err.Error())
			return run, fmt.Errorf("action %q: %w", a.Name(), err)
		}

		res.Status = RunSuccess
		run.Results = append(run.Results, res)
		alog.Info().Dur("elapsed", res.Duration()).Msg("action complete")
		e.audit(al, audit.EventActionFinished, run.UUID, a.Name(), map[string]string{"elapsed": res.Duration().String()})
	}

	e.finishRun(al, run, RunSuccess, "")
	log.Info().Int("actions", len(run.Results)).Msg("run complete")
	return run, nil
}

func (e *Engine) startRun(run *Run, remote sdk.Remote) (*audit.Logger, error) {
	if e.auditDB == nil {
		return nil, nil
	}
	al, err := audit.NewLogger(e.auditDB, e.env, e.operator)
	if err != nil {
		return nil, fmt.Errorf("creating audit logger: %w", err)
	}
	if err := db.InsertRun(e.auditDB, db.RunRecord{
		UUID:        run.UUID,
		Environment: e.env,
		BaseURL:     e.baseURL,
		Status:      string(RunRunning),
		ActionCount: len(e.actions),
		StartedAt:   run.StartedAt,
	}); err != nil {
		return nil, fmt.Errorf("recording run: %w", err)
	}
	if r, ok := remote.(auditable); ok {
		r.SetAudit(al, run.UUID)
	}
	e.audit(al, audit.EventRunStarted, run.UUID, "", map[string]any{
		"environment": e.env,
		"actions":     len(e.actions),
	})
	return al, nil
}

func (e *Engine) finishRun(al *audit.Logger, run *Run, status RunStatus, errDetail string) {
	run.Status = status
	run.CompletedAt = time.Now().UTC()
	if al == nil {
		return
	}
	e.audit(al, audit.EventRunFinished, run.UUID, "", map[string]string{"status": string(status)})
	if err := db.FinishRun(e.auditDB, run.UUID, string(status), run.CompletedAt, errDetail); err != nil {
		e.logger.Warn().Err(err).Str("run", run.UUID).Msg("recording run completion")
	}
}

// audit failures are logged and never abort a run.
func (e *Engine) audit(al *audit.Logger, event audit.EventType, runUUID, actionName string, detail any) {
	if al == nil {
		return
	}
	if err := al.Log(event, runUUID, actionName, detail); err != nil {
		e.logger.Warn().Err(err).Str("event", string(event)).Msg("writing audit record")
	}
}
