package doctools

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Tool names exposed by the doc-tools server.
const (
	ToolParsePDF      = "parse_pdf"
	ToolAnalyzeDefect = "analyze_defect"
)

// ParsePDFArgs carries the document as base64.
type ParsePDFArgs struct {
	Filename  string `json:"filename,omitempty"`
	PDFBase64 string `json:"pdf_base64"`
}

// ParsePDFResult is the extracted text, or an error message the worker
// logs and skips past.
type ParsePDFResult struct {
	Text  string `json:"text,omitempty"`
	Error string `json:"error,omitempty"`
}

func textResult(v interface{}) (*mcp.CallToolResult, any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal tool result: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(b)}},
	}, nil, nil
}

// NewServer builds the stdio MCP server exposing the document tools.
func NewServer(analyzer *DefectAnalyzer, version string) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: "doc-tools", Version: version}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        ToolParsePDF,
		Description: "Extract plain UTF-8 text from a PDF invoice (base64 input).",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args ParsePDFArgs) (*mcp.CallToolResult, any, error) {
		data, err := base64.StdEncoding.DecodeString(args.PDFBase64)
		if err != nil {
			return textResult(ParsePDFResult{Error: fmt.Sprintf("invalid base64: %v", err)})
		}
		text, err := ExtractPDFText(data)
		if err != nil {
			// Malformed PDFs are a permanent upstream error: report
			// in-band, never fail the call.
			return textResult(ParsePDFResult{Error: err.Error()})
		}
		return textResult(ParsePDFResult{Text: text})
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        ToolAnalyzeDefect,
		Description: "Describe the defect visible in a customer photo in one sentence, or flag it for human review.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args DefectRequest) (*mcp.CallToolResult, any, error) {
		return textResult(analyzer.Analyze(ctx, args))
	})

	return server
}
