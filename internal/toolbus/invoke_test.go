package toolbus

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoSchema() *openapi3.Schema {
	s := openapi3.NewObjectSchema()
	s.Properties = openapi3.Schemas{
		"text": openapi3.NewStringSchema().NewRef(),
	}
	s.Required = []string{"text"}
	return s
}

func newTestRegistry() *Registry {
	reg := NewRegistry()
	reg.Register(&Tool{
		Name:        "echo",
		Description: "echoes its text argument back",
		Schema:      echoSchema(),
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			return map[string]any{"text": args["text"]}, nil
		},
	})
	reg.Register(&Tool{
		Name:        "always_fails",
		Description: "always returns a handler error",
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			return nil, errors.New("boom")
		},
	})
	reg.Register(&Tool{
		Name:    "denied_tool",
		Denied:  true,
		Handler: func(ctx context.Context, args map[string]any) (any, error) { return nil, nil },
	})
	return reg
}

func TestInvoke_UnknownToolReturnsNotFound(t *testing.T) {
	reg := newTestRegistry()
	_, err := Invoke(context.Background(), reg, nil, "nope", json.RawMessage(`{}`))
	require.Error(t, err)
}

func TestInvoke_DeniedToolReturnsToolDenied(t *testing.T) {
	reg := newTestRegistry()
	_, err := Invoke(context.Background(), reg, nil, "denied_tool", json.RawMessage(`{}`))
	require.Error(t, err)
}

func TestInvoke_SchemaMismatchReturnsInvalidArguments(t *testing.T) {
	reg := newTestRegistry()
	_, err := Invoke(context.Background(), reg, nil, "echo", json.RawMessage(`{}`))
	require.Error(t, err)
}

func TestInvoke_SucceedsAndReturnsResult(t *testing.T) {
	reg := newTestRegistry()
	res, err := Invoke(context.Background(), reg, nil, "echo", json.RawMessage(`{"text":"hi"}`))
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Outcome)
	assert.NotEmpty(t, res.ReplayID)
}

func TestInvoke_HandlerErrorIsOutcomeFailedNotHTTPError(t *testing.T) {
	reg := newTestRegistry()
	res, err := Invoke(context.Background(), reg, nil, "always_fails", json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.Equal(t, "failed", res.Outcome)
	assert.Equal(t, "boom", res.Error)
}

func TestInvoke_DistinctReplayIDsForIdenticalArguments(t *testing.T) {
	reg := newTestRegistry()
	res1, err := Invoke(context.Background(), reg, nil, "echo", json.RawMessage(`{"text":"hi"}`))
	require.NoError(t, err)
	res2, err := Invoke(context.Background(), reg, nil, "echo", json.RawMessage(`{"text":"hi"}`))
	require.NoError(t, err)
	assert.NotEqual(t, res1.ReplayID, res2.ReplayID)
}

func TestInvoke_LogsNDJSONRecordOnSuccess(t *testing.T) {
	dir := t.TempDir()
	ndjsonPath := filepath.Join(dir, "tools.ndjson")
	logger, err := NewLogger(LogConfig{NDJSONPath: ndjsonPath}, logrus.New())
	require.NoError(t, err)

	reg := newTestRegistry()
	res, err := Invoke(context.Background(), reg, logger, "echo", json.RawMessage(`{"text":"hi"}`))
	require.NoError(t, err)

	logger.Stop()

	raw, err := os.ReadFile(ndjsonPath)
	require.NoError(t, err)
	assert.Contains(t, string(raw), res.ReplayID)
	assert.Contains(t, string(raw), `"tool_name":"echo"`)
}

func TestInvoke_LogsPerInvocationFile(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewLogger(LogConfig{PerInvocationDir: dir}, logrus.New())
	require.NoError(t, err)

	reg := newTestRegistry()
	res, err := Invoke(context.Background(), reg, logger, "echo", json.RawMessage(`{"text":"hi"}`))
	require.NoError(t, err)
	logger.Stop()

	raw, err := os.ReadFile(filepath.Join(dir, res.ReplayID+".json"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), res.ReplayID)
}
