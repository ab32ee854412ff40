package engine

import (
	"encoding/json"
	"fmt"

	"github.com/iamrudi/AgentDash-sub001/pkg/models"
)

// Step configuration variants. A step's raw Config is decoded into the struct
// matching its type tag; the graph stays plain data that can be serialized
// and validated before anything runs.

// SignalStepConfig asserts the triggering payload matches a type and filter
// before execution proceeds.
type SignalStepConfig struct {
	SignalType string                 `json:"signal_type,omitempty"`
	Filter     []models.RuleCondition `json:"filter,omitempty"`
}

// RuleStepConfig points at the rule whose active version the step evaluates.
type RuleStepConfig struct {
	RuleID string `json:"rule_id"`
}

// AIStepConfig delegates to the AI generation collaborator.
type AIStepConfig struct {
	Prompt   string                 `json:"prompt"`
	Schema   map[string]interface{} `json:"schema,omitempty"`
	UseCache bool                   `json:"use_cache,omitempty"`
}

// ActionStepConfig delegates to the action dispatch collaborator.
type ActionStepConfig struct {
	ActionType string                 `json:"action_type"`
	Config     map[string]interface{} `json:"config,omitempty"`
}

// BranchCase is one (condition-set, logic, next) tuple of a branch step.
type BranchCase struct {
	Conditions []models.RuleCondition `json:"conditions"`
	Logic      models.ConditionLogic  `json:"logic,omitempty"`
	Next       string                 `json:"next"`
}

// BranchStepConfig picks the next step from the first matching case, falling
// back to DefaultNext. With no default and no match the execution fails.
type BranchStepConfig struct {
	Branches    []BranchCase `json:"branches"`
	DefaultNext string       `json:"default_next,omitempty"`
}

// ParallelStepConfig fans out to the named sub-steps, joins them, and merges
// their outputs keyed by step id before following the parallel step's Next.
type ParallelStepConfig struct {
	Steps []string `json:"steps"`
}

// AgentStepConfig delegates to a specialized agent collaborator.
type AgentStepConfig struct {
	Domain     string                 `json:"domain"`
	Operation  string                 `json:"operation"`
	Capability string                 `json:"capability,omitempty"`
	Input      map[string]interface{} `json:"input,omitempty"`
}

// decodeStepConfig decodes a step's raw config into its typed variant.
func decodeStepConfig(step *models.WorkflowStep) (interface{}, error) {
	raw := step.Config
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	var (
		cfg interface{}
		err error
	)
	switch step.Type {
	case models.StepTypeSignal:
		c := SignalStepConfig{}
		err = json.Unmarshal(raw, &c)
		cfg = c
	case models.StepTypeRule:
		c := RuleStepConfig{}
		err = json.Unmarshal(raw, &c)
		cfg = c
	case models.StepTypeAI:
		c := AIStepConfig{}
		err = json.Unmarshal(raw, &c)
		cfg = c
	case models.StepTypeAction:
		c := ActionStepConfig{}
		err = json.Unmarshal(raw, &c)
		cfg = c
	case models.StepTypeBranch:
		c := BranchStepConfig{}
		err = json.Unmarshal(raw, &c)
		cfg = c
	case models.StepTypeParallel:
		c := ParallelStepConfig{}
		err = json.Unmarshal(raw, &c)
		cfg = c
	case models.StepTypeAgent:
		c := AgentStepConfig{}
		err = json.Unmarshal(raw, &c)
		cfg = c
	default:
		return nil, fmt.Errorf("unknown step type %q", step.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("invalid config for %s step %q: %w", step.Type, step.ID, err)
	}
	return cfg, nil
}
