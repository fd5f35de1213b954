package mcpserver

import (
	"fmt"
	"sort"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/numlab/matlab-mcp-go/internal/errors"
	"github.com/numlab/matlab-mcp-go/internal/run"
)

// requireFields rejects blank required string fields before any engine work
// happens. Keys are sorted so the reported field is deterministic.
func requireFields(fields map[string]string) error {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if fields[name] == "" {
			return &errors.InvalidRequestError{Field: name, Reason: "must not be empty"}
		}
	}
	return nil
}

// errorResult converts an adapter error into a tool error result. The kind
// prefix lets callers branch on the failure class without parsing messages.
func errorResult(err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{
			Text: fmt.Sprintf("Error [%s]: %s", errors.Kind(err), err.Error()),
		}},
		IsError: true,
	}
}

// resultWithFigures builds the unstructured content for an execution result:
// console output text followed by one image block per exported figure.
func resultWithFigures(res run.Result) *mcp.CallToolResult {
	content := []mcp.Content{&mcp.TextContent{Text: res.Output}}
	for _, fig := range res.Figures {
		content = append(content, &mcp.ImageContent{
			Data:     fig.Data,
			MIMEType: fig.MIMEType,
		})
	}
	return &mcp.CallToolResult{Content: content}
}
