package mcpserver

import (
	"context"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/numlab/matlab-mcp-go/internal/errors"
)

// CreateScriptInput defines the input for the create_script tool.
type CreateScriptInput struct {
	Name string `json:"name" jsonschema:"Name of the script (without .m extension)"`
	Code string `json:"code" jsonschema:"MATLAB code to save"`
}

// CreateFunctionInput defines the input for the create_function tool.
type CreateFunctionInput struct {
	Name string `json:"name" jsonschema:"Name of the function (without .m extension)"`
	Code string `json:"code" jsonschema:"MATLAB function code; the declared function name must match"`
}

// ExecuteScriptInput defines the input for the execute_script tool.
type ExecuteScriptInput struct {
	Name    string         `json:"name"`
	Args    map[string]any `json:"args,omitempty"`
	Capture []string       `json:"capture,omitempty"`
}

// CallFunctionInput defines the input for the call_function tool.
type CallFunctionInput struct {
	Name    string `json:"name"`
	Args    []any  `json:"args,omitempty"`
	Nargout int    `json:"nargout,omitempty"`
}

// ExecuteCommandInput defines the input for the execute_command tool.
type ExecuteCommandInput struct {
	Command string `json:"command" jsonschema:"MATLAB command to execute"`
}

// registerTools registers the adapter's tool surface on the MCP server.
func (s *Server) registerTools() error {
	createScriptSchema, err := jsonschema.For[CreateScriptInput](nil)
	if err != nil {
		return fmt.Errorf("schema for create_script: %w", err)
	}

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "create_script",
		Description: "Create or overwrite a MATLAB script file in the script store.",
		InputSchema: createScriptSchema,
	}, s.CreateScript)

	createFunctionSchema, err := jsonschema.For[CreateFunctionInput](nil)
	if err != nil {
		return fmt.Errorf("schema for create_function: %w", err)
	}

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "create_function",
		Description: "Create or overwrite a MATLAB function file. The code must contain a function definition matching the name.",
		InputSchema: createFunctionSchema,
	}, s.CreateFunction)

	// Schemas with free-form values are built by hand: args payloads are
	// arbitrary JSON and cannot be inferred from a Go struct.
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "execute_script",
		Description: "Execute a stored MATLAB script and return console output, new figures, and requested workspace variables.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"name": {Type: "string", Description: "Name of the script to execute (without .m extension)"},
				"args": {Type: "object", Description: "Named values assigned into the workspace before the script runs"},
				"capture": {
					Type:        "array",
					Items:       &jsonschema.Schema{Type: "string"},
					Description: "Workspace variable names to return after execution",
				},
			},
			Required: []string{"name"},
		},
	}, s.ExecuteScript)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "call_function",
		Description: "Call a stored MATLAB function with positional arguments and return its result, console output, and new figures.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"name":    {Type: "string", Description: "Name of the function to call (without .m extension)"},
				"args":    {Type: "array", Items: &jsonschema.Schema{}, Description: "Positional arguments"},
				"nargout": {Type: "integer", Description: "Number of output values to request (default 1)"},
			},
			Required: []string{"name"},
		},
	}, s.CallFunction)

	executeCommandSchema, err := jsonschema.For[ExecuteCommandInput](nil)
	if err != nil {
		return fmt.Errorf("schema for execute_command: %w", err)
	}

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "execute_command",
		Description: "Execute a MATLAB command directly in the session workspace.",
		InputSchema: executeCommandSchema,
	}, s.ExecuteCommand)

	return nil
}

// CreateScript handles the create_script tool call.
func (s *Server) CreateScript(ctx context.Context, req *mcp.CallToolRequest, in CreateScriptInput) (*mcp.CallToolResult, any, error) {
	if err := requireFields(map[string]string{"name": in.Name, "code": in.Code}); err != nil {
		return errorResult(err), nil, nil
	}

	path, err := s.store.WriteScript(in.Name, in.Code)
	if err != nil {
		return errorResult(err), nil, nil
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: "Created MATLAB script: " + path}},
	}, map[string]any{"path": path}, nil
}

// CreateFunction handles the create_function tool call.
func (s *Server) CreateFunction(ctx context.Context, req *mcp.CallToolRequest, in CreateFunctionInput) (*mcp.CallToolResult, any, error) {
	if err := requireFields(map[string]string{"name": in.Name, "code": in.Code}); err != nil {
		return errorResult(err), nil, nil
	}

	path, err := s.store.WriteFunction(in.Name, in.Code)
	if err != nil {
		return errorResult(err), nil, nil
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: "Created MATLAB function: " + path}},
	}, map[string]any{"path": path}, nil
}

// ExecuteScript handles the execute_script tool call.
func (s *Server) ExecuteScript(ctx context.Context, req *mcp.CallToolRequest, in ExecuteScriptInput) (*mcp.CallToolResult, any, error) {
	if err := requireFields(map[string]string{"name": in.Name}); err != nil {
		return errorResult(err), nil, nil
	}

	res, err := s.runner.RunScript(ctx, in.Name, in.Args, in.Capture)
	if err != nil {
		return errorResult(err), nil, nil
	}

	structured := map[string]any{"output": res.Output}
	if res.Variables != nil {
		structured["variables"] = res.Variables
	}

	return resultWithFigures(res), structured, nil
}

// CallFunction handles the call_function tool call.
func (s *Server) CallFunction(ctx context.Context, req *mcp.CallToolRequest, in CallFunctionInput) (*mcp.CallToolResult, any, error) {
	if err := requireFields(map[string]string{"name": in.Name}); err != nil {
		return errorResult(err), nil, nil
	}

	if in.Nargout < 0 {
		return errorResult(&errors.InvalidRequestError{
			Field:  "nargout",
			Reason: "must not be negative",
		}), nil, nil
	}

	res, err := s.runner.CallFunction(ctx, in.Name, in.Args, in.Nargout)
	if err != nil {
		return errorResult(err), nil, nil
	}

	structured := map[string]any{
		"result": res.Value,
		"output": res.Output,
	}

	return resultWithFigures(res), structured, nil
}

// ExecuteCommand handles the execute_command tool call.
func (s *Server) ExecuteCommand(ctx context.Context, req *mcp.CallToolRequest, in ExecuteCommandInput) (*mcp.CallToolResult, any, error) {
	if err := requireFields(map[string]string{"command": in.Command}); err != nil {
		return errorResult(err), nil, nil
	}

	res, err := s.runner.RunCommand(ctx, in.Command)
	if err != nil {
		return errorResult(err), nil, nil
	}

	return resultWithFigures(res), map[string]any{"output": res.Output}, nil
}
