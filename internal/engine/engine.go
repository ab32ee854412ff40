// Package engine interprets workflow step graphs. An execution walks the
// graph from the entry step, emitting an append-only event per step attempt,
// and settles into exactly one terminal state.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/iamrudi/AgentDash-sub001/internal/canonical"
	"github.com/iamrudi/AgentDash-sub001/internal/logging"
	"github.com/iamrudi/AgentDash-sub001/internal/repository"
	"github.com/iamrudi/AgentDash-sub001/internal/rules"
	"github.com/iamrudi/AgentDash-sub001/pkg/models"
)

// Trigger describes what started an execution. Payload is the idempotency
// input; Signal is set when the trigger came from signal routing.
type Trigger struct {
	ID      string
	Type    models.TriggerType
	Payload map[string]interface{}
	Signal  *models.Signal
}

// stepOutcome is the result of one step execution.
type stepOutcome struct {
	output map[string]interface{}
	// next overrides the step's static Next pointer (branch steps).
	next string
	// halt completes the execution early (rule step that did not match).
	halt bool
}

var errNoBranchMatched = errors.New("no branch matched and no default branch configured")

// Engine executes workflow versions. It owns no state of its own; every run
// is reconstructed from the execution row and its event log.
type Engine struct {
	executions  repository.ExecutionStore
	events      repository.EventStore
	ruleStore   repository.RuleStore
	evaluator   *rules.Evaluator
	coordinator *Coordinator
	dispatcher  ActionDispatcher
	generator   AIGenerator
	agents      AgentInvoker
	logger      *logging.Logger

	// sleep is swapped out in tests so retry backoff does not slow them down.
	sleep func(context.Context, time.Duration) error
	now   func() time.Time
}

// New creates an engine. dispatcher, generator and agents may be nil; the
// matching step types then fail at run time.
func New(repo repository.Repository, evaluator *rules.Evaluator, dispatcher ActionDispatcher, generator AIGenerator, agents AgentInvoker, logger *logging.Logger) *Engine {
	return &Engine{
		executions:  repo,
		events:      repo,
		ruleStore:   repo,
		evaluator:   evaluator,
		coordinator: NewCoordinator(repo),
		dispatcher:  dispatcher,
		generator:   generator,
		agents:      agents,
		logger:      logger,
		sleep:       sleepCtx,
		now:         time.Now,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Execute runs the workflow for the trigger. A replay of an input the
// workflow version has already seen returns the existing execution without
// running anything; the second return value reports whether this call
// actually started a run.
func (e *Engine) Execute(ctx context.Context, workflow *models.Workflow, trigger Trigger) (*models.WorkflowExecution, bool, error) {
	if err := Validate(workflow); err != nil {
		return nil, false, err
	}

	execution, created, err := e.coordinator.Begin(ctx, workflow, trigger)
	if err != nil {
		return nil, false, fmt.Errorf("failed to claim execution: %w", err)
	}
	if !created {
		e.logger.Info("execution %s replayed for workflow %s, input already seen", execution.ID, workflow.ID)
		return execution, false, nil
	}

	e.run(ctx, workflow, trigger, execution)
	return execution, true, nil
}

// run drives the execution to a terminal state. All failures are folded into
// the execution row; run itself never returns an error.
func (e *Engine) run(ctx context.Context, workflow *models.Workflow, trigger Trigger, execution *models.WorkflowExecution) {
	if workflow.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(workflow.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	execution.Status = models.ExecutionStatusRunning
	if err := e.executions.UpdateExecution(ctx, execution); err != nil {
		e.logger.Error("failed to mark execution %s running: %v", execution.ID, err)
	}

	state := map[string]interface{}{"trigger": trigger.Payload}
	step := workflow.EntryStep()

	for step != nil {
		if err := ctx.Err(); err != nil {
			e.finishAborted(execution, err)
			return
		}

		execution.CurrentStepID = &step.ID
		outcome, err := e.runStepWithPolicy(ctx, workflow, step, trigger, execution, state)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				e.finishAborted(execution, ctxErr)
				return
			}
			e.finishFailed(execution, step.ID, err)
			return
		}

		if outcome.output != nil {
			state[step.ID] = outcome.output
		}
		if outcome.halt {
			break
		}

		next := step.Next
		if outcome.next != "" {
			next = outcome.next
		}
		if next == "" {
			break
		}
		step = workflow.StepByID(next)
	}

	e.finishCompleted(execution, state)
}

// runStepWithPolicy executes one step under its error policy, writing the
// event trail as it goes. The returned error is already policy-adjusted: skip
// swallows the failure, retry returns only the final attempt's error.
func (e *Engine) runStepWithPolicy(ctx context.Context, workflow *models.Workflow, step *models.WorkflowStep, trigger Trigger, execution *models.WorkflowExecution, state map[string]interface{}) (stepOutcome, error) {
	retry := step.Retry
	if retry == nil {
		retry = &workflow.Retry
	}
	maxAttempts := 1
	if step.OnError == models.ErrorPolicyRetry {
		maxAttempts = retry.MaxRetries + 1
	}

	e.emit(ctx, execution, step, models.EventTypeStarted, state, nil, nil, 0, 0)

	var outcome stepOutcome
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		start := e.now()
		outcome, err = e.executeStep(ctx, workflow, step, trigger, execution, state)
		duration := e.now().Sub(start).Milliseconds()

		if err == nil {
			e.emit(ctx, execution, step, models.EventTypeCompleted, state, outcome.output, nil, duration, attempt)
			return outcome, nil
		}
		if ctx.Err() != nil {
			e.emit(ctx, execution, step, models.EventTypeFailed, state, nil, err, duration, attempt)
			return stepOutcome{}, err
		}

		if attempt < maxAttempts-1 {
			e.emit(ctx, execution, step, models.EventTypeRetrying, state, nil, err, duration, attempt)
			delay := backoffDelay(retry, attempt)
			if sleepErr := e.sleep(ctx, delay); sleepErr != nil {
				return stepOutcome{}, sleepErr
			}
			continue
		}

		if step.OnError == models.ErrorPolicySkip {
			e.emit(ctx, execution, step, models.EventTypeSkipped, state, nil, err, duration, attempt)
			e.logger.Warn("execution %s skipped failing step %s: %v", execution.ID, step.ID, err)
			return stepOutcome{}, nil
		}
		e.emit(ctx, execution, step, models.EventTypeFailed, state, nil, err, duration, attempt)
	}
	return stepOutcome{}, err
}

// backoffDelay computes the wait before the next attempt. A multiplier of
// zero means unset and falls back to constant delay.
func backoffDelay(retry *models.RetryPolicy, attempt int) time.Duration {
	delay := time.Duration(retry.BackoffMs) * time.Millisecond
	multiplier := retry.BackoffMultiplier
	if multiplier <= 0 {
		multiplier = 1.0
	}
	for i := 0; i < attempt; i++ {
		delay = time.Duration(float64(delay) * multiplier)
	}
	return delay
}

func (e *Engine) executeStep(ctx context.Context, workflow *models.Workflow, step *models.WorkflowStep, trigger Trigger, execution *models.WorkflowExecution, state map[string]interface{}) (stepOutcome, error) {
	cfg, err := decodeStepConfig(step)
	if err != nil {
		return stepOutcome{}, err
	}

	ec := &rules.EvalContext{
		TenantID: workflow.TenantID,
		Signal:   trigger.Signal,
		Values:   state,
	}
	if trigger.Signal != nil && trigger.Signal.ClientID != nil {
		ec.ClientID = *trigger.Signal.ClientID
	}

	switch c := cfg.(type) {
	case SignalStepConfig:
		return e.executeSignalStep(ctx, c, trigger, ec)
	case RuleStepConfig:
		return e.executeRuleStep(ctx, c, trigger, execution, ec)
	case AIStepConfig:
		if e.generator == nil {
			return stepOutcome{}, fmt.Errorf("no generator configured for ai step %q", step.ID)
		}
		out, err := e.generator.Generate(ctx, c.Prompt, c.Schema, state, c.UseCache)
		if err != nil {
			return stepOutcome{}, err
		}
		return stepOutcome{output: out}, nil
	case ActionStepConfig:
		if e.dispatcher == nil {
			return stepOutcome{}, fmt.Errorf("no dispatcher configured for action step %q", step.ID)
		}
		out, err := e.dispatcher.Dispatch(ctx, c.ActionType, c.Config, state)
		if err != nil {
			return stepOutcome{}, err
		}
		return stepOutcome{output: out}, nil
	case AgentStepConfig:
		if e.agents == nil {
			return stepOutcome{}, fmt.Errorf("no agent invoker configured for agent step %q", step.ID)
		}
		input := c.Input
		if input == nil {
			input = state
		}
		out, err := e.agents.Invoke(ctx, c.Domain, c.Operation, c.Capability, input)
		if err != nil {
			return stepOutcome{}, err
		}
		return stepOutcome{output: out}, nil
	case BranchStepConfig:
		return e.executeBranchStep(ctx, c, ec)
	case ParallelStepConfig:
		return e.executeParallelStep(ctx, workflow, c, trigger, execution, state)
	default:
		return stepOutcome{}, fmt.Errorf("unknown step type %q", step.Type)
	}
}

// executeSignalStep asserts the triggering signal matches the configured type
// and filter. A mismatch fails the step; the step's error policy decides what
// happens next.
func (e *Engine) executeSignalStep(ctx context.Context, cfg SignalStepConfig, trigger Trigger, ec *rules.EvalContext) (stepOutcome, error) {
	if cfg.SignalType != "" {
		if trigger.Signal == nil || trigger.Signal.Type != cfg.SignalType {
			return stepOutcome{}, fmt.Errorf("trigger does not carry a signal of type %q", cfg.SignalType)
		}
	}
	if len(cfg.Filter) > 0 {
		matched, _, err := e.evaluator.EvaluateConditions(ctx, cfg.Filter, models.ConditionLogicAll, ec)
		if err != nil {
			return stepOutcome{}, err
		}
		if !matched {
			return stepOutcome{}, fmt.Errorf("signal does not satisfy the step filter")
		}
	}
	return stepOutcome{output: map[string]interface{}{"matched": true}}, nil
}

// executeRuleStep evaluates the rule's active version and records the
// evaluation. A non-matching rule is not a failure: it halts the execution,
// which then completes with the rule's verdict in the result.
func (e *Engine) executeRuleStep(ctx context.Context, cfg RuleStepConfig, trigger Trigger, execution *models.WorkflowExecution, ec *rules.EvalContext) (stepOutcome, error) {
	version, err := e.ruleStore.GetActiveVersion(ctx, cfg.RuleID)
	if err != nil {
		return stepOutcome{}, fmt.Errorf("failed to resolve active version of rule %s: %w", cfg.RuleID, err)
	}
	evaluation, err := e.evaluator.Evaluate(ctx, version, ec)
	if err != nil {
		return stepOutcome{}, err
	}
	evaluation.ID = uuid.NewString()
	evaluation.ExecutionID = &execution.ID
	if trigger.Signal != nil {
		evaluation.SignalID = &trigger.Signal.ID
	}
	if err := e.ruleStore.RecordEvaluation(ctx, evaluation); err != nil {
		e.logger.Error("failed to record evaluation of rule %s: %v", cfg.RuleID, err)
	}

	output := map[string]interface{}{
		"rule_id":         version.RuleID,
		"rule_version_id": version.ID,
		"matched":         evaluation.Matched,
	}
	return stepOutcome{output: output, halt: !evaluation.Matched}, nil
}

// executeBranchStep picks the first case whose conditions match, falling back
// to the default branch. Exhausting every case without a default fails the
// step.
func (e *Engine) executeBranchStep(ctx context.Context, cfg BranchStepConfig, ec *rules.EvalContext) (stepOutcome, error) {
	for i, branch := range cfg.Branches {
		logic := branch.Logic
		if logic == "" {
			logic = models.ConditionLogicAll
		}
		matched, _, err := e.evaluator.EvaluateConditions(ctx, branch.Conditions, logic, ec)
		if err != nil {
			return stepOutcome{}, err
		}
		if matched {
			return stepOutcome{
				output: map[string]interface{}{"branch": i, "next": branch.Next},
				next:   branch.Next,
			}, nil
		}
	}
	if cfg.DefaultNext != "" {
		return stepOutcome{
			output: map[string]interface{}{"branch": "default", "next": cfg.DefaultNext},
			next:   cfg.DefaultNext,
		}, nil
	}
	return stepOutcome{}, errNoBranchMatched
}

// executeParallelStep fans out to the configured sub-steps, waits for all of
// them, and merges their outputs keyed by sub-step id. Any sub-step failure
// fails the whole parallel step.
func (e *Engine) executeParallelStep(ctx context.Context, workflow *models.Workflow, cfg ParallelStepConfig, trigger Trigger, execution *models.WorkflowExecution, state map[string]interface{}) (stepOutcome, error) {
	merged := make(map[string]interface{}, len(cfg.Steps))
	var group errgroup.Group
	results := make([]map[string]interface{}, len(cfg.Steps))

	for i, subID := range cfg.Steps {
		i, subID := i, subID
		sub := workflow.StepByID(subID)
		if sub == nil {
			return stepOutcome{}, fmt.Errorf("parallel step references unknown step %q", subID)
		}
		group.Go(func() error {
			outcome, err := e.runStepWithPolicy(ctx, workflow, sub, trigger, execution, state)
			if err != nil {
				return fmt.Errorf("sub-step %s: %w", subID, err)
			}
			results[i] = outcome.output
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return stepOutcome{}, err
	}
	for i, subID := range cfg.Steps {
		if results[i] != nil {
			merged[subID] = results[i]
		}
	}
	return stepOutcome{output: merged}, nil
}

func (e *Engine) finishCompleted(execution *models.WorkflowExecution, state map[string]interface{}) {
	now := e.now().UTC()
	execution.Status = models.ExecutionStatusCompleted
	execution.Result = state
	execution.CompletedAt = &now
	execution.CurrentStepID = nil
	if hash, err := canonical.Hash(state); err == nil {
		execution.OutputHash = hash
	}
	e.persistTerminal(execution)
}

func (e *Engine) finishFailed(execution *models.WorkflowExecution, stepID string, err error) {
	now := e.now().UTC()
	msg := fmt.Sprintf("step %s: %v", stepID, err)
	execution.Status = models.ExecutionStatusFailed
	execution.Error = &msg
	execution.CompletedAt = &now
	e.persistTerminal(execution)
}

// finishAborted maps a context error to the matching terminal state: the
// workflow timeout produces a failure, an external cancellation produces a
// cancelled execution.
func (e *Engine) finishAborted(execution *models.WorkflowExecution, ctxErr error) {
	now := e.now().UTC()
	execution.CompletedAt = &now
	if errors.Is(ctxErr, context.DeadlineExceeded) {
		msg := "execution timed out"
		execution.Status = models.ExecutionStatusFailed
		execution.Error = &msg
	} else {
		msg := "execution cancelled"
		execution.Status = models.ExecutionStatusCancelled
		execution.Error = &msg
	}
	e.persistTerminal(execution)
}

// persistTerminal writes the final execution row with a fresh context so a
// timed-out run can still record its outcome.
func (e *Engine) persistTerminal(execution *models.WorkflowExecution) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.executions.UpdateExecution(ctx, execution); err != nil {
		e.logger.Error("failed to persist terminal state of execution %s: %v", execution.ID, err)
	}
}

// emit appends one event to the execution log. Input and output are snapshot
// at write time so the log stays fixed while the shared state map keeps
// accumulating step outputs. Event writes use a background context so the
// trail survives a cancelled run.
func (e *Engine) emit(ctx context.Context, execution *models.WorkflowExecution, step *models.WorkflowStep, eventType models.EventType, input, output map[string]interface{}, stepErr error, durationMs int64, retryCount int) {
	event := &models.WorkflowEvent{
		ID:          uuid.NewString(),
		ExecutionID: execution.ID,
		StepID:      step.ID,
		StepType:    step.Type,
		EventType:   eventType,
		Input:       snapshot(input),
		Output:      snapshot(output),
		DurationMs:  durationMs,
		RetryCount:  retryCount,
		CreatedAt:   e.now().UTC(),
	}
	if stepErr != nil {
		msg := stepErr.Error()
		event.Error = &msg
	}
	writeCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		writeCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}
	if err := e.events.AppendEvent(writeCtx, event); err != nil {
		e.logger.Error("failed to append %s event for step %s of execution %s: %v", eventType, step.ID, execution.ID, err)
	}
}

// snapshot deep-copies a payload map so an emitted event cannot observe later
// mutations of the source.
func snapshot(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		if nested, ok := v.(map[string]interface{}); ok {
			out[k] = snapshot(nested)
			continue
		}
		out[k] = v
	}
	return out
}
