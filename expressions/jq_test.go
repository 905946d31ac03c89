package expressions

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeJSON(t *testing.T, s string) map[string]any {
	t.Helper()
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()
	var m map[string]any
	require.NoError(t, dec.Decode(&m))
	return m
}

const itemJSON = `{"id": 428, "name": "Core Switch", "model": {"id": 7, "name": "AP82i"}, "tags": ["core", "lab"], "cost": 12.5}`

func TestQuery_Run(t *testing.T) {
	item := decodeJSON(t, itemJSON)

	tests := []struct {
		name string
		expr string
		want []any
	}{
		{"field", ".name", []any{"Core Switch"}},
		{"nested", ".model.name", []any{"AP82i"}},
		{"integer", ".id", []any{428}},
		{"float", ".cost", []any{12.5}},
		{"arithmetic", ".id + 1", []any{429}},
		{"stream", ".tags[]", []any{"core", "lab"}},
		{"object", "{id, model: .model.name}", []any{map[string]any{"id": 428, "model": "AP82i"}}},
		{"empty", "empty", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := CompileQuery(tt.expr)
			require.NoError(t, err)

			got, err := q.Run(context.Background(), item)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestQuery_EnvIsEmpty(t *testing.T) {
	t.Setenv("ASSETLABEL_SECRET_PROBE", "leak")

	q, err := CompileQuery(`$ENV | length`)
	require.NoError(t, err)

	got, err := q.Run(context.Background(), map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, []any{0}, got)
}

func TestQuery_Errors(t *testing.T) {
	_, err := CompileQuery("")
	assert.Error(t, err)

	_, err = CompileQuery(".name |")
	assert.ErrorContains(t, err, "parse")

	_, err = CompileQuery("undefined_fn(1)")
	assert.ErrorContains(t, err, "compile")

	q, err := CompileQuery(".name + 1")
	require.NoError(t, err)
	_, err = q.Run(context.Background(), decodeJSON(t, itemJSON))
	assert.ErrorContains(t, err, "evaluation failed")
}
