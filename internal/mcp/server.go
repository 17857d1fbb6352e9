package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Aman-CERP/amanrag/internal/service"
	"github.com/Aman-CERP/amanrag/pkg/version"
)

// ServerName is reported to MCP clients.
const ServerName = "amanrag"

// Backend is what the tools call into. *service.Service implements it.
type Backend interface {
	Fuse(ctx context.Context, req service.Request) (*service.Response, error)
	Status() service.Status
}

// Server exposes the fuse and fusion_status tools.
type Server struct {
	mcp     *mcp.Server
	backend Backend
	logger  *slog.Logger
}

// ToolInfo names a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

var tools = []ToolInfo{
	{
		Name: "fuse",
		Description: "Retrieve context for a question. Runs vector, keyword and knowledge-graph retrieval in parallel, " +
			"fuses the ranked lists with reciprocal rank fusion and optionally reranks. Results carry the summary of " +
			"the entity community they belong to. Omit weights to let the server route the query.",
	},
	{
		Name:        "fusion_status",
		Description: "Report registered retrieval sources, the loaded community snapshot and query telemetry.",
	},
}

// NewServer creates an MCP server over backend.
func NewServer(backend Backend) (*Server, error) {
	if backend == nil {
		return nil, errors.New("fusion backend is required")
	}
	s := &Server{
		backend: backend,
		logger:  slog.Default(),
	}
	s.mcp = mcp.NewServer(&mcp.Implementation{Name: ServerName, Version: version.Version}, nil)

	mcp.AddTool(s.mcp, &mcp.Tool{Name: tools[0].Name, Description: tools[0].Description}, s.handleFuse)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: tools[1].Name, Description: tools[1].Description}, s.handleStatus)
	s.registerResources()

	s.logger.Debug("mcp_tools_registered", slog.Int("count", len(tools)))
	return s, nil
}

// ListTools returns the registered tools.
func (s *Server) ListTools() []ToolInfo {
	return append([]ToolInfo(nil), tools...)
}

// MCPServer returns the underlying SDK server.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// HTTPHandler serves the streamable HTTP transport.
func (s *Server) HTTPHandler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return s.mcp }, nil)
}

// Serve runs the stdio transport until ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("mcp_server_starting", slog.String("transport", "stdio"))
	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("mcp_server_stopped", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("mcp_server_stopped")
	return nil
}

func (s *Server) handleFuse(ctx context.Context, _ *mcp.CallToolRequest, in FuseInput) (*mcp.CallToolResult, FuseOutput, error) {
	if strings.TrimSpace(in.Query) == "" {
		return nil, FuseOutput{}, NewInvalidParamsError("query parameter is required")
	}
	if in.TopN < 0 {
		return nil, FuseOutput{}, NewInvalidParamsError(fmt.Sprintf("top_n must be non-negative, got %d", in.TopN))
	}

	resp, err := s.backend.Fuse(ctx, service.Request{
		Query:      in.Query,
		SubQueries: in.SubQueries,
		Weights:    in.Weights,
		TopN:       in.TopN,
		Rerank:     in.Rerank,
	})
	if err != nil {
		s.logger.Warn("mcp_fuse_failed", slog.String("error", err.Error()))
		return nil, FuseOutput{}, MapError(err)
	}

	out := ToFuseOutput(resp)
	result := &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: FormatMarkdown(in.Query, out)}},
	}
	return result, out, nil
}

func (s *Server) handleStatus(_ context.Context, _ *mcp.CallToolRequest, _ StatusInput) (*mcp.CallToolResult, StatusOutput, error) {
	return nil, ToStatusOutput(s.backend.Status()), nil
}
