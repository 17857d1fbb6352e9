package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// StatusResourceURI is the URI of the status resource.
const StatusResourceURI = "amanrag://status"

func (s *Server) registerResources() {
	s.mcp.AddResource(
		&mcp.Resource{
			Name:        "fusion_status",
			URI:         StatusResourceURI,
			Description: "Registered sources, community snapshot and query telemetry",
			MIMEType:    "application/json",
		},
		s.handleStatusResource,
	)
}

func (s *Server) handleStatusResource(_ context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	uri := StatusResourceURI
	if req != nil && req.Params != nil && req.Params.URI != "" {
		uri = req.Params.URI
	}
	if uri != StatusResourceURI {
		return nil, NewInvalidParamsError(fmt.Sprintf("resource %q not found", uri))
	}

	data, err := json.MarshalIndent(ToStatusOutput(s.backend.Status()), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal status: %w", err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      StatusResourceURI,
			MIMEType: "application/json",
			Text:     string(data),
		}},
	}, nil
}
