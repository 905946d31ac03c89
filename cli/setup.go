package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/fahmaliyi/assetlabel/vault"
)

// Setup collects the inventory URL, API key and a vault password and
// seals them into a new vault.
type Setup struct {
	Vault    *vault.Vault
	Prompter Prompter
	Out      io.Writer
	Logger   *slog.Logger
}

// Run prompts until the record is valid and the password is confirmed,
// then seals. Invalid input is reported and asked for again; it is never
// written to disk. A prompt error such as EOF aborts setup.
func (s *Setup) Run(ctx context.Context) (vault.Record, error) {
	fmt.Fprintln(s.Out, titleStyle.Render("Asset label generator setup"))
	fmt.Fprintln(s.Out, "Credentials are stored encrypted in", s.Vault.Filename)

	rec, err := promptRecord(ctx, s.Prompter, s.Out, vault.Record{})
	if err != nil {
		return vault.Record{}, err
	}

	pw, err := promptNewPassword(ctx, s.Prompter, s.Out)
	if err != nil {
		return vault.Record{}, err
	}
	defer vault.Zero(pw)

	if err := s.Vault.Seal(rec, pw); err != nil {
		return vault.Record{}, err
	}
	s.Logger.InfoContext(ctx, "vault created", "path", s.Vault.Filename)
	printOK(s.Out, "Credentials saved.")
	return rec, nil
}

// promptRecord asks for the base URL and API key. Non-empty fields of
// current are offered as defaults and kept when the answer is blank.
func promptRecord(ctx context.Context, p Prompter, out io.Writer, current vault.Record) (vault.Record, error) {
	rec := current
	askURL, askKey := true, true
	for {
		if err := ctx.Err(); err != nil {
			return vault.Record{}, err
		}
		if askURL {
			prompt := "Snipe-IT URL (e.g. https://inventory.example.com): "
			if current.BaseURL != "" {
				prompt = fmt.Sprintf("Snipe-IT URL [%s]: ", current.BaseURL)
			}
			line, err := p.ReadLine(ctx, prompt)
			if err != nil {
				return vault.Record{}, fmt.Errorf("read URL: %w", err)
			}
			if line = strings.TrimSpace(line); line != "" || current.BaseURL == "" {
				rec.BaseURL = line
			}
		}
		if askKey {
			prompt := "API key: "
			if current.APIKey != "" {
				prompt = "API key (blank keeps the current key): "
			}
			key, err := p.ReadPassword(ctx, prompt)
			if err != nil {
				return vault.Record{}, fmt.Errorf("read API key: %w", err)
			}
			if k := strings.TrimSpace(string(key)); k != "" || current.APIKey == "" {
				rec.APIKey = k
			}
			vault.Zero(key)
		}

		err := rec.Validate()
		var ve *vault.ValidationError
		if !errors.As(err, &ve) {
			return rec, err
		}
		printErr(out, ve.Error())
		askURL = ve.Field != "api_key"
		askKey = ve.Field != "base_url"
	}
}

// promptNewPassword asks for a non-empty password twice until both
// entries match.
func promptNewPassword(ctx context.Context, p Prompter, out io.Writer) ([]byte, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pw, err := p.ReadPassword(ctx, "New vault password: ")
		if err != nil {
			return nil, fmt.Errorf("read password: %w", err)
		}
		if len(pw) == 0 {
			printErr(out, "password must not be empty")
			continue
		}
		confirm, err := p.ReadPassword(ctx, "Confirm password: ")
		if err != nil {
			vault.Zero(pw)
			return nil, fmt.Errorf("read password: %w", err)
		}
		match := bytes.Equal(pw, confirm)
		vault.Zero(confirm)
		if !match {
			vault.Zero(pw)
			printErr(out, "passwords do not match")
			continue
		}
		return pw, nil
	}
}
