package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// ActionDispatcher performs the side effect of an action step (send an email,
// post to chat, create a task). The engine treats it as a black box.
type ActionDispatcher interface {
	Dispatch(ctx context.Context, actionType string, config, input map[string]interface{}) (map[string]interface{}, error)
}

// AIGenerator produces structured content for an ai step. useCache lets the
// step reuse a previous generation for an identical prompt and input.
type AIGenerator interface {
	Generate(ctx context.Context, prompt string, schema, input map[string]interface{}, useCache bool) (map[string]interface{}, error)
}

// AgentInvoker hands a unit of work to a specialized agent and returns its
// result.
type AgentInvoker interface {
	Invoke(ctx context.Context, domain, operation, capability string, input map[string]interface{}) (map[string]interface{}, error)
}

// HTTPActionDispatcher posts actions to an external dispatch service.
type HTTPActionDispatcher struct {
	url string
}

// NewHTTPActionDispatcher creates a dispatcher targeting the given base URL.
func NewHTTPActionDispatcher(url string) *HTTPActionDispatcher {
	return &HTTPActionDispatcher{url: url}
}

func (c *HTTPActionDispatcher) Dispatch(ctx context.Context, actionType string, config, input map[string]interface{}) (map[string]interface{}, error) {
	return postJSON(ctx, c.url+"/actions", map[string]interface{}{
		"action_type": actionType,
		"config":      config,
		"input":       input,
	})
}

// HTTPAIGenerator calls an external generation service.
type HTTPAIGenerator struct {
	url string
}

// NewHTTPAIGenerator creates a generator targeting the given base URL.
func NewHTTPAIGenerator(url string) *HTTPAIGenerator {
	return &HTTPAIGenerator{url: url}
}

func (c *HTTPAIGenerator) Generate(ctx context.Context, prompt string, schema, input map[string]interface{}, useCache bool) (map[string]interface{}, error) {
	return postJSON(ctx, c.url+"/generate", map[string]interface{}{
		"prompt":    prompt,
		"schema":    schema,
		"input":     input,
		"use_cache": useCache,
	})
}

// HTTPAgentInvoker calls an external agent gateway.
type HTTPAgentInvoker struct {
	url string
}

// NewHTTPAgentInvoker creates an invoker targeting the given base URL.
func NewHTTPAgentInvoker(url string) *HTTPAgentInvoker {
	return &HTTPAgentInvoker{url: url}
}

func (c *HTTPAgentInvoker) Invoke(ctx context.Context, domain, operation, capability string, input map[string]interface{}) (map[string]interface{}, error) {
	return postJSON(ctx, c.url+"/agents/"+domain+"/"+operation, map[string]interface{}{
		"capability": capability,
		"input":      input,
	})
}

func postJSON(ctx context.Context, url string, body map[string]interface{}) (map[string]interface{}, error) {
	requestBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("request to %s failed: status code %d", url, resp.StatusCode)
	}

	var result map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response body: %w", err)
	}
	return result, nil
}
