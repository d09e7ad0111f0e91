package toolbus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/tributary-ai/local-gateway/internal/gatewayerror"
)

// InvokeResult is the `POST /v1/tools/{name}` response body (spec
// §4.8): outcome follows the failure taxonomy exactly.
type InvokeResult struct {
	ReplayID string `json:"replay_id"`
	Outcome  string `json:"outcome"` // "ok" | "failed"; a denied tool is an error return
	Result   any    `json:"result,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Invoke runs one tool call end to end: schema validation, canonical
// hashing, replay ID minting, handler execution, and logging.
//
// Errors returned here are *gatewayerror.Error values whose token maps
// directly to the taxonomy's HTTP status (not_found, denied,
// invalid_arguments); a tool that runs and fails internally is NOT an
// error return — it is a 200 response with outcome:"failed" (spec
// §4.8 "tool errors are not HTTP errors").
func Invoke(ctx context.Context, reg *Registry, logger *Logger, toolName string, rawArgs json.RawMessage) (InvokeResult, error) {
	tool, ok := reg.Lookup(toolName)
	if !ok {
		return InvokeResult{}, gatewayerror.ToolNotFound(toolName)
	}
	if tool.Denied {
		return InvokeResult{}, gatewayerror.ToolDenied("tool is not permitted by current policy")
	}

	canonicalArgs, err := Canonicalize(rawArgs)
	if err != nil {
		return InvokeResult{}, gatewayerror.InvalidArguments(err.Error())
	}

	var argMap map[string]any
	if err := json.Unmarshal([]byte(canonicalArgs), &argMap); err != nil {
		return InvokeResult{}, gatewayerror.InvalidArguments(err.Error())
	}
	if err := validateArguments(tool, argMap); err != nil {
		return InvokeResult{}, err
	}

	requestHash := RequestHash(toolName, canonicalArgs)
	replayID := uuid.NewString()
	startedAt := time.Now().UTC()

	result, runErr := tool.Handler(ctx, argMap)
	endedAt := time.Now().UTC()

	res := InvokeResult{ReplayID: replayID}
	var resultOrError any
	if runErr != nil {
		res.Outcome = "failed"
		res.Error = runErr.Error()
		resultOrError = map[string]any{"error": runErr.Error()}
	} else {
		res.Outcome = "ok"
		res.Result = result
		resultOrError = result
	}

	if logger != nil {
		logger.Log(&Record{
			ReplayID:      replayID,
			ToolName:      toolName,
			RequestHash:   requestHash,
			StartedAt:     startedAt,
			EndedAt:       endedAt,
			Outcome:       res.Outcome,
			Arguments:     canonicalArgs,
			ResultOrError: resultOrError,
		})
	}

	return res, nil
}
