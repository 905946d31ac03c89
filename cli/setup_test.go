package cli

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fahmaliyi/assetlabel/logging"
	"github.com/fahmaliyi/assetlabel/vault"
)

func newSetup(v *vault.Vault, p Prompter, out io.Writer) *Setup {
	return &Setup{Vault: v, Prompter: p, Out: out, Logger: logging.Discard()}
}

func TestSetup_Run(t *testing.T) {
	v := newTestVault(t)
	p := &scriptedPrompter{
		lines:     []string{"  https://inv.example.com/api  "},
		passwords: []string{"abc123", testPassword, testPassword},
	}
	var out strings.Builder

	rec, err := newSetup(v, p, &out).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, exampleRecord, rec)

	got, err := v.Unlock([]byte(testPassword))
	require.NoError(t, err)
	assert.Equal(t, exampleRecord, got)
	assert.Contains(t, out.String(), "Credentials saved.")
}

func TestSetup_RepromptsInvalidURL(t *testing.T) {
	v := newTestVault(t)
	p := &scriptedPrompter{
		lines:     []string{"", "ftp://inv.example.com", "inv.example.com", "https://inv.example.com/api"},
		passwords: []string{"abc123", testPassword, testPassword},
	}
	var out strings.Builder

	rec, err := newSetup(v, p, &out).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, exampleRecord, rec)

	assert.Len(t, p.linePrompts, 4)
	assert.Len(t, p.passwordPrompts, 3, "the API key is asked for once")
	assert.Equal(t, 3, strings.Count(out.String(), "invalid base_url"))
}

func TestSetup_RepromptsEmptyAPIKey(t *testing.T) {
	v := newTestVault(t)
	p := &scriptedPrompter{
		lines:     []string{"https://inv.example.com/api"},
		passwords: []string{"", "   ", "abc123", testPassword, testPassword},
	}
	var out strings.Builder

	rec, err := newSetup(v, p, &out).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc123", rec.APIKey)
	assert.Len(t, p.linePrompts, 1, "the URL is asked for once")
	assert.Equal(t, 2, strings.Count(out.String(), "invalid api_key"))
}

func TestSetup_PasswordConfirmation(t *testing.T) {
	v := newTestVault(t)
	p := &scriptedPrompter{
		lines:     []string{"https://inv.example.com/api"},
		passwords: []string{"abc123", "", "one", "two", testPassword, testPassword},
	}
	var out strings.Builder

	_, err := newSetup(v, p, &out).Run(context.Background())
	require.NoError(t, err)

	assert.Contains(t, out.String(), "password must not be empty")
	assert.Contains(t, out.String(), "passwords do not match")

	_, err = v.Unlock([]byte("one"))
	assert.ErrorIs(t, err, vault.ErrAuthFailed)
	_, err = v.Unlock([]byte(testPassword))
	assert.NoError(t, err)
}

func TestSetup_EOFAborts(t *testing.T) {
	tests := []struct {
		name string
		p    *scriptedPrompter
	}{
		{"at URL", &scriptedPrompter{}},
		{"at API key", &scriptedPrompter{lines: []string{"https://inv.example.com"}}},
		{"at password", &scriptedPrompter{lines: []string{"https://inv.example.com"}, passwords: []string{"abc123"}}},
		{"at confirmation", &scriptedPrompter{lines: []string{"https://inv.example.com"}, passwords: []string{"abc123", testPassword}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newTestVault(t)

			_, err := newSetup(v, tt.p, io.Discard).Run(context.Background())
			assert.ErrorIs(t, err, io.EOF)

			exists, err := v.Exists()
			require.NoError(t, err)
			assert.False(t, exists, "nothing is written on abort")
		})
	}
}

func TestPromptRecord_KeepsCurrentValues(t *testing.T) {
	p := &scriptedPrompter{lines: []string{""}, passwords: []string{""}}

	rec, err := promptRecord(context.Background(), p, io.Discard, exampleRecord)
	require.NoError(t, err)
	assert.Equal(t, exampleRecord, rec)
	assert.Contains(t, p.linePrompts[0], exampleRecord.BaseURL)
	assert.NotContains(t, p.passwordPrompts[0], exampleRecord.APIKey)
}

func TestPromptRecord_ReplacesValues(t *testing.T) {
	p := &scriptedPrompter{lines: []string{"https://new.example.com"}, passwords: []string{"newkey"}}

	rec, err := promptRecord(context.Background(), p, io.Discard, exampleRecord)
	require.NoError(t, err)
	assert.Equal(t, vault.Record{BaseURL: "https://new.example.com", APIKey: "newkey"}, rec)
}
