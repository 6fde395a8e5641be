// Package google implements the Google-compatible /v1beta/models surface's
// wrap/unwrap translation against the upstream content schema.
package google

import (
	"github.com/google/uuid"
	"github.com/tidwall/sjson"
)

// proSuffix identifies model variants that must always be streamed from the
// upstream, even for a client's non-streaming request.
const proSuffix = "-pro"

// IsProVariant reports whether modelID names a "pro" model variant.
func IsProVariant(modelID string) bool {
	return len(modelID) >= len(proSuffix) && modelID[len(modelID)-len(proSuffix):] == proSuffix
}

// WrapRequest builds the upstream envelope {project, requestId, request,
// model, userAgent, requestType} around a client-supplied Google-format
// request body.
func WrapRequest(rawRequest []byte, projectID, model, requestType string) ([]byte, error) {
	template := `{"project":"","requestId":"","request":{},"model":"","userAgent":"quotarelay","requestType":"agent"}`
	template, err := sjson.SetRaw(template, "request", string(rawRequest))
	if err != nil {
		return nil, err
	}
	template, err = sjson.Set(template, "project", projectID)
	if err != nil {
		return nil, err
	}
	template, err = sjson.Set(template, "requestId", "req-"+uuid.NewString())
	if err != nil {
		return nil, err
	}
	template, err = sjson.Set(template, "model", model)
	if err != nil {
		return nil, err
	}
	if requestType != "" {
		template, err = sjson.Set(template, "requestType", requestType)
		if err != nil {
			return nil, err
		}
	}
	return []byte(template), nil
}
