package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/iamrudi/AgentDash-sub001/internal/services"
	"github.com/iamrudi/AgentDash-sub001/pkg/models"
)

type Server struct {
	mcpServer *server.MCPServer
	service   *services.AutomationService
}

func NewServer(service *services.AutomationService) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"Agency Automation",
			"1.0.0",
			server.WithToolCapabilities(true),
		),
		service: service,
	}

	s.registerTools()
	return s
}

func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"ingest_signal",
			mcp.WithDescription("Ingest a business signal; it is deduplicated and routed to matching workflows"),
			mcp.WithString("tenant_id", mcp.Required(), mcp.Description("The tenant the signal belongs to")),
			mcp.WithString("source", mcp.Required(), mcp.Description("Where the signal originated")),
			mcp.WithString("type", mcp.Required(), mcp.Description("The signal type")),
			mcp.WithString("urgency", mcp.Description("low, normal, high or critical")),
			mcp.WithObject("payload", mcp.Description("The signal payload")),
		),
		s.handleIngestSignal,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"execute_workflow",
			mcp.WithDescription("Trigger the latest active version of a workflow with a payload"),
			mcp.WithString("tenant_id", mcp.Required(), mcp.Description("The tenant the workflow belongs to")),
			mcp.WithString("workflow_id", mcp.Required(), mcp.Description("The stable workflow id")),
			mcp.WithObject("payload", mcp.Description("The trigger payload")),
		),
		s.handleExecuteWorkflow,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"evaluate_rule",
			mcp.WithDescription("Evaluate a rule's active version against supplied values and return the verdict with its trace"),
			mcp.WithString("tenant_id", mcp.Required(), mcp.Description("The tenant the rule belongs to")),
			mcp.WithString("rule_id", mcp.Required(), mcp.Description("The rule id")),
			mcp.WithObject("values", mcp.Description("The values conditions are resolved against")),
		),
		s.handleEvaluateRule,
	)
}

func (s *Server) handleIngestSignal(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	tenantID, _ := args["tenant_id"].(string)
	source, _ := args["source"].(string)
	signalType, _ := args["type"].(string)
	if tenantID == "" || source == "" || signalType == "" {
		return mcp.NewToolResultError("Missing required parameters: tenant_id, source, type"), nil
	}
	urgency, _ := args["urgency"].(string)
	payload, _ := args["payload"].(map[string]interface{})

	signal := &models.Signal{
		TenantID: tenantID,
		Source:   models.SignalSource(source),
		Type:     signalType,
		Urgency:  models.SignalUrgency(urgency),
		Payload:  payload,
	}
	created, err := s.service.IngestSignal(ctx, signal)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to ingest signal: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(created)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleExecuteWorkflow(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	tenantID, _ := args["tenant_id"].(string)
	workflowID, _ := args["workflow_id"].(string)
	if tenantID == "" || workflowID == "" {
		return mcp.NewToolResultError("Missing required parameters: tenant_id, workflow_id"), nil
	}
	payload, _ := args["payload"].(map[string]interface{})

	execution, _, err := s.service.ExecuteWorkflow(ctx, tenantID, workflowID, payload)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to execute workflow: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(execution)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleEvaluateRule(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	tenantID, _ := args["tenant_id"].(string)
	ruleID, _ := args["rule_id"].(string)
	if tenantID == "" || ruleID == "" {
		return mcp.NewToolResultError("Missing required parameters: tenant_id, rule_id"), nil
	}
	values, _ := args["values"].(map[string]interface{})

	evaluation, err := s.service.EvaluateRule(ctx, tenantID, ruleID, "", values)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to evaluate rule: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(evaluation)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func MountHTTPHandlers(mux *http.ServeMux, mcpServer *server.MCPServer) {
	// Use SSE server for /mcp/sse and /mcp/message endpoints
	sseServer := server.NewSSEServer(mcpServer, server.WithStaticBasePath("/mcp"))

	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		// Direct POST for tool calls
		if r.Method == http.MethodPost {
			sseServer.ServeHTTP(w, r)
			return
		}
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	})

	// SSE endpoints
	mux.HandleFunc("/mcp/sse", sseServer.ServeHTTP)
	mux.HandleFunc("/mcp/message", sseServer.ServeHTTP)
}
