package engine

import (
	"errors"
	"fmt"

	"github.com/iamrudi/AgentDash-sub001/pkg/models"
)

// ErrInvalidWorkflow wraps every validation failure so callers can treat them
// as boundary errors rather than execution failures.
var ErrInvalidWorkflow = errors.New("invalid workflow")

// Validate checks a workflow definition before it is saved or executed: step
// ids must be unique, every next pointer and branch/parallel reference must
// resolve, per-type configs must decode, and the graph reachable from the
// entry step must be acyclic. Cyclic graphs are a defect, rejected here
// rather than detected at run time.
func Validate(workflow *models.Workflow) error {
	if len(workflow.Steps) == 0 {
		return fmt.Errorf("%w: workflow has no steps", ErrInvalidWorkflow)
	}

	byID := make(map[string]*models.WorkflowStep, len(workflow.Steps))
	for i := range workflow.Steps {
		step := &workflow.Steps[i]
		if step.ID == "" {
			return fmt.Errorf("%w: step %d has no id", ErrInvalidWorkflow, i)
		}
		if _, dup := byID[step.ID]; dup {
			return fmt.Errorf("%w: duplicate step id %q", ErrInvalidWorkflow, step.ID)
		}
		byID[step.ID] = step
	}

	for _, step := range workflow.Steps {
		if err := validateStep(&step, byID); err != nil {
			return err
		}
	}

	return checkAcyclic(workflow.EntryStep().ID, byID)
}

func validateStep(step *models.WorkflowStep, byID map[string]*models.WorkflowStep) error {
	if step.Next != "" {
		if _, ok := byID[step.Next]; !ok {
			return fmt.Errorf("%w: step %q points to unknown next step %q", ErrInvalidWorkflow, step.ID, step.Next)
		}
	}
	if step.OnError == models.ErrorPolicyRetry && step.Retry != nil && step.Retry.MaxRetries < 0 {
		return fmt.Errorf("%w: step %q has negative max retries", ErrInvalidWorkflow, step.ID)
	}

	cfg, err := decodeStepConfig(step)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidWorkflow, err)
	}

	switch c := cfg.(type) {
	case RuleStepConfig:
		if c.RuleID == "" {
			return fmt.Errorf("%w: rule step %q has no rule_id", ErrInvalidWorkflow, step.ID)
		}
	case ActionStepConfig:
		if c.ActionType == "" {
			return fmt.Errorf("%w: action step %q has no action_type", ErrInvalidWorkflow, step.ID)
		}
	case AIStepConfig:
		if c.Prompt == "" {
			return fmt.Errorf("%w: ai step %q has no prompt", ErrInvalidWorkflow, step.ID)
		}
	case AgentStepConfig:
		if c.Domain == "" || c.Operation == "" {
			return fmt.Errorf("%w: agent step %q needs domain and operation", ErrInvalidWorkflow, step.ID)
		}
	case BranchStepConfig:
		if len(c.Branches) == 0 {
			return fmt.Errorf("%w: branch step %q has no branches", ErrInvalidWorkflow, step.ID)
		}
		for i, branch := range c.Branches {
			if branch.Next == "" {
				return fmt.Errorf("%w: branch %d of step %q has no next", ErrInvalidWorkflow, i, step.ID)
			}
			if _, ok := byID[branch.Next]; !ok {
				return fmt.Errorf("%w: branch %d of step %q points to unknown step %q", ErrInvalidWorkflow, i, step.ID, branch.Next)
			}
		}
		if c.DefaultNext != "" {
			if _, ok := byID[c.DefaultNext]; !ok {
				return fmt.Errorf("%w: branch step %q default points to unknown step %q", ErrInvalidWorkflow, step.ID, c.DefaultNext)
			}
		}
	case ParallelStepConfig:
		if len(c.Steps) == 0 {
			return fmt.Errorf("%w: parallel step %q fans out to no steps", ErrInvalidWorkflow, step.ID)
		}
		for _, subID := range c.Steps {
			sub, ok := byID[subID]
			if !ok {
				return fmt.Errorf("%w: parallel step %q references unknown step %q", ErrInvalidWorkflow, step.ID, subID)
			}
			// The parallel step's own next is the join point; sub-steps must
			// not chain further.
			if sub.Next != "" {
				return fmt.Errorf("%w: parallel sub-step %q must be terminal, has next %q", ErrInvalidWorkflow, subID, sub.Next)
			}
		}
	}
	return nil
}

// checkAcyclic walks the graph from the entry step, following next pointers,
// branch targets and parallel fan-outs, and rejects any cycle.
func checkAcyclic(entry string, byID map[string]*models.WorkflowStep) error {
	const (
		white = 0 // unvisited
		grey  = 1 // on the current path
		black = 2 // fully explored
	)
	color := make(map[string]int, len(byID))

	var visit func(id string) error
	visit = func(id string) error {
		switch color[id] {
		case grey:
			return fmt.Errorf("%w: cycle detected through step %q", ErrInvalidWorkflow, id)
		case black:
			return nil
		}
		color[id] = grey
		for _, next := range edges(byID[id]) {
			if err := visit(next); err != nil {
				return err
			}
		}
		color[id] = black
		return nil
	}
	return visit(entry)
}

// edges returns every step id reachable in one hop from the step.
func edges(step *models.WorkflowStep) []string {
	var out []string
	if step.Next != "" {
		out = append(out, step.Next)
	}
	cfg, err := decodeStepConfig(step)
	if err != nil {
		return out
	}
	switch c := cfg.(type) {
	case BranchStepConfig:
		for _, branch := range c.Branches {
			out = append(out, branch.Next)
		}
		if c.DefaultNext != "" {
			out = append(out, c.DefaultNext)
		}
	case ParallelStepConfig:
		out = append(out, c.Steps...)
	}
	return out
}
