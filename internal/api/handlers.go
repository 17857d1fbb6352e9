package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/fusion"
	"github.com/Aman-CERP/amanrag/internal/service"
)

// FuseRequest is the POST /v1/fuse body.
type FuseRequest struct {
	Query          string             `json:"query" validate:"required,max=8192"`
	SubQueries     []string           `json:"sub_queries,omitempty" validate:"max=16"`
	Weights        map[string]float64 `json:"weights,omitempty"`
	TopN           int                `json:"top_n,omitempty" validate:"gte=0,lte=1000"`
	Rerank         *bool              `json:"rerank,omitempty"`
	SourceTimeouts map[string]string  `json:"source_timeouts,omitempty"`
}

// ErrorBody is the error envelope.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// FuseResponse is the POST /v1/fuse reply. On AllSourcesFailed the result
// is still present and names the degraded sources.
type FuseResponse struct {
	*service.Response
	Error *ErrorBody `json:"error,omitempty"`
}

func (s *Server) handleFuse(c echo.Context) error {
	req := new(FuseRequest)
	if err := c.Bind(req); err != nil {
		return c.JSON(http.StatusBadRequest, FuseResponse{Error: &ErrorBody{
			Code: amerrors.ErrCodeInvalidInput, Message: "invalid request body",
		}})
	}
	if err := c.Validate(req); err != nil {
		return c.JSON(http.StatusBadRequest, FuseResponse{Error: &ErrorBody{
			Code: amerrors.ErrCodeInvalidInput, Message: err.Error(),
		}})
	}

	resp, err := s.backend.Fuse(c.Request().Context(), service.Request{
		Query:      req.Query,
		SubQueries: req.SubQueries,
		Weights:    req.Weights,
		TopN:       req.TopN,
		Rerank:     req.Rerank,
		Timeouts:   req.SourceTimeouts,
	})
	if resp == nil {
		resp = &service.Response{FusionResult: &fusion.FusionResult{Items: []fusion.FusedResult{}, DegradedSources: []string{}}}
	}
	if err != nil {
		return c.JSON(StatusFor(err), FuseResponse{Response: resp, Error: errorBody(err)})
	}
	return c.JSON(http.StatusOK, FuseResponse{Response: resp})
}

func (s *Server) handleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, s.backend.Status())
}

// StatusFor maps an error to an HTTP status code.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		// nginx's "client closed request".
		return 499
	}
	switch amerrors.GetCode(err) {
	case amerrors.ErrCodeInvalidInput, amerrors.ErrCodeInvalidQuery:
		return http.StatusBadRequest
	case amerrors.ErrCodeAllSourcesFailed:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func errorBody(err error) *ErrorBody {
	code := amerrors.GetCode(err)
	if code == "" {
		code = amerrors.ErrCodeInternal
	}
	var fe *amerrors.FusionError
	if errors.As(err, &fe) {
		return &ErrorBody{Code: code, Message: fe.Message}
	}
	return &ErrorBody{Code: code, Message: err.Error()}
}
