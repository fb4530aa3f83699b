package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/intake/internal/config"
	"github.com/kalambet/intake/internal/pipeline"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Pipeline *pipeline.Orchestrator
	Settings []config.KeyInfo // non-secret settings served as intake://config
}

// NewMCPServer creates an MCP server with the intake tools and resources registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"intake",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("intake validates text, detects its language, translates it to the target language and normalizes it."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("validate_text",
			mcp.WithDescription("Check text against the length, format, content and encoding rules without storing it."),
			mcp.WithString("text", mcp.Description("Text to validate"), mcp.Required()),
		),
		mcpValidateText(deps),
	)

	s.AddTool(
		mcp.NewTool("process_text",
			mcp.WithDescription("Submit text to the pipeline. Returns the record id and its status."),
			mcp.WithString("text", mcp.Description("Text to process"), mcp.Required()),
			mcp.WithString("user_id", mcp.Description("Submitting user"), mcp.Required()),
			mcp.WithString("session_id", mcp.Description("Optional session id")),
			mcp.WithBoolean("wait", mcp.Description("Run the pipeline before returning (default true)")),
		),
		mcpProcessText(deps),
	)

	s.AddTool(
		mcp.NewTool("get_status",
			mcp.WithDescription("Return the processing status of a record."),
			mcp.WithString("record_id", mcp.Description("Record id returned by process_text"), mcp.Required()),
			mcp.WithBoolean("detailed", mcp.Description("Include phases, language, translation and processed text")),
		),
		mcpGetStatus(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"intake://config",
			"Pipeline Configuration",
			mcp.WithResourceDescription("Non-secret settings and the provider chains as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceConfig(deps),
	)

	return s
}

func mcpValidateText(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("text")
		if err != nil {
			return mcpError("text is required"), nil
		}
		return mcpJSON(deps.Pipeline.Validate(text))
	}
}

func mcpProcessText(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("text")
		if err != nil {
			return mcpError("text is required"), nil
		}
		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}

		acc, err := deps.Pipeline.Process(ctx, pipeline.Submission{
			Text:      text,
			UserID:    userID,
			SessionID: req.GetString("session_id", ""),
		}, req.GetBool("wait", true))
		if err != nil {
			return mcpError(fmt.Sprintf("processing failed: %v", err)), nil
		}
		return mcpJSON(acc)
	}
}

func mcpGetStatus(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("record_id")
		if err != nil {
			return mcpError("record_id is required"), nil
		}

		view, err := deps.Pipeline.GetStatus(id, req.GetBool("detailed", false))
		if pipeline.IsNotFound(err) {
			return mcpError(fmt.Sprintf("record %s not found", id)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to get status: %v", err)), nil
		}
		return mcpJSON(view)
	}
}

func mcpResourceConfig(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		settings := make(map[string]string, len(deps.Settings))
		for _, kv := range deps.Settings {
			settings[kv.Key] = kv.Value
		}

		b, err := json.Marshal(map[string]any{
			"settings":  settings,
			"providers": deps.Pipeline.Providers(),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal config: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
