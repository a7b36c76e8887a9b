package provider

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/conduit/internal/api"
)

// wrapUpstreamError converts SDK errors to the gateway's error envelope.
// Upstream HTTP statuses are preserved so the boundary relays 401/429/5xx
// instead of flattening everything to 500.
func wrapUpstreamError(err error) error {
	var apiErr *api.Error
	if errors.As(err, &apiErr) {
		return apiErr
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return api.NewError(api.ErrorTypeTimeout, "upstream request deadline exceeded")
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	var oaiErr *openai.APIError
	if errors.As(err, &oaiErr) {
		e := api.NewError(api.ErrorTypeAPI, oaiErr.Message)
		e.Status = oaiErr.HTTPStatusCode
		if oaiErr.Param != nil {
			e.Param = *oaiErr.Param
		}
		if code, ok := oaiErr.Code.(string); ok && code != "" {
			e.Code = code
		} else if oaiErr.Type != "" {
			e.Code = oaiErr.Type
		}
		return e
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		e := api.NewErrorf(api.ErrorTypeAPI, "upstream request failed: %v", reqErr.Err)
		e.Status = reqErr.HTTPStatusCode
		return e
	}

	return api.NewError(api.ErrorTypeAPI, fmt.Sprintf("upstream provider error: %v", err))
}
