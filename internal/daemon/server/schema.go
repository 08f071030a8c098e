package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/grovetools/relay/internal/daemon/store"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// patchRequestSchema gates mutation requests at the HTTP boundary before
// they reach the store's own path validation.
const patchRequestSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["patch"],
	"additionalProperties": false,
	"properties": {
		"patch": {
			"type": "object",
			"minProperties": 1,
			"propertyNames": {
				"pattern": "^[^.]+(\\.[^.]+)*$"
			}
		}
	}
}`

var patchSchema = jsonschema.MustCompileString("patch-request.json", patchRequestSchema)

// decodePatchRequest validates the request body against the patch schema and
// returns the contained patch.
func decodePatchRequest(r *http.Request) (store.Patch, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read request body: %w", err)
	}

	var raw any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if err := patchSchema.Validate(raw); err != nil {
		return nil, fmt.Errorf("invalid patch request: %w", err)
	}

	var req struct {
		Patch store.Patch `json:"patch"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("decode patch: %w", err)
	}
	return req.Patch, nil
}
