package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// RegisterMCP registers the processing tools on an MCP server.
//
// Uses the SDK's low-level ToolHandler: arguments arrive as json.RawMessage
// in req.Params.Arguments, InputSchema must be valid JSON with
// "type":"object". Tool failures go through result.SetError, not the
// returned error (that would be a JSON-RPC protocol error).
func (s *Server) RegisterMCP(srv *mcp.Server) {
	s.registerProcessTool(srv)
	s.registerStatusTool(srv)
}

func inputSchema(properties map[string]any, required []string) json.RawMessage {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	data, err := json.Marshal(schema)
	if err != nil {
		panic(fmt.Sprintf("api: marshal input schema: %v", err))
	}
	return data
}

func toolError(err error) (*mcp.CallToolResult, error) {
	var res mcp.CallToolResult
	res.SetError(err)
	return &res, nil
}

func toolJSON(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return toolError(err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}, nil
}

type processToolReq struct {
	Paths                []string `json:"paths"`
	MaxPartsInFlight     int      `json:"max_parts_in_flight,omitempty"`
	MaxDocumentsInFlight int      `json:"max_documents_in_flight,omitempty"`
}

func (s *Server) registerProcessTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "process_documents",
		Description: "Submit local study documents (html, md, txt, pdf) for mindmap generation. Returns job IDs immediately; processing is asynchronous.",
		InputSchema: inputSchema(map[string]any{
			"paths": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Absolute paths of the documents to process",
			},
			"max_parts_in_flight": map[string]any{
				"type":        "integer",
				"description": "Concurrent parts per document (1-5)",
			},
			"max_documents_in_flight": map[string]any{
				"type":        "integer",
				"description": "Concurrent documents (1-3)",
			},
		}, []string{"paths"}),
	}

	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var r processToolReq
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return toolError(fmt.Errorf("process_documents: invalid arguments: %w", err))
		}
		records, err := s.svc.Submit(ctx, r.Paths, Knobs{
			MaxPartsInFlight:     r.MaxPartsInFlight,
			MaxDocumentsInFlight: r.MaxDocumentsInFlight,
		})
		if err != nil {
			return toolError(fmt.Errorf("process_documents: %w", err))
		}
		return toolJSON(map[string]any{"jobs": records})
	})
}

type statusToolReq struct {
	JobID string `json:"job_id"`
}

func (s *Server) registerStatusTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "job_status",
		Description: "Fetch the status and finalized part results of a processing job.",
		InputSchema: inputSchema(map[string]any{
			"job_id": map[string]any{"type": "string", "description": "Job ID"},
		}, []string{"job_id"}),
	}

	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var r statusToolReq
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return toolError(fmt.Errorf("job_status: invalid arguments: %w", err))
		}
		job, err := s.store.GetJob(ctx, r.JobID)
		if err != nil {
			return toolError(fmt.Errorf("job_status: %w", err))
		}
		if job == nil {
			return toolError(fmt.Errorf("job_status: job %s not found", r.JobID))
		}
		results, err := s.store.ListPartResults(ctx, r.JobID)
		if err != nil {
			return toolError(fmt.Errorf("job_status: %w", err))
		}
		return toolJSON(map[string]any{"job": job, "results": results})
	})
}
