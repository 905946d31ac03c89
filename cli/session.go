package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/fahmaliyi/assetlabel/vault"
)

// DefaultMaxAttempts bounds consecutive wrong passwords per run.
const DefaultMaxAttempts = 3

var ErrTooManyAttempts = errors.New("too many incorrect password attempts")

// Session turns a vault file into an unlocked credential record for one
// run of the program.
type Session struct {
	Vault    *vault.Vault
	Prompter Prompter
	Out      io.Writer
	Logger   *slog.Logger

	// Setup runs when no vault exists yet. Nil means a missing vault is
	// returned as vault.ErrVaultNotFound.
	Setup *Setup

	MaxAttempts int

	// Password, when set, is tried as the first attempt and then cleared.
	Password []byte
}

// Open returns the stored credentials, running setup on first use.
func (s *Session) Open(ctx context.Context) (vault.Record, error) {
	rec, pw, err := s.unlock(ctx)
	vault.Zero(pw)
	return rec, err
}

// unlock is Open but also hands back the password that worked. A record
// produced by setup comes back with a nil password.
func (s *Session) unlock(ctx context.Context) (vault.Record, []byte, error) {
	exists, err := s.Vault.Exists()
	if err != nil {
		return vault.Record{}, nil, err
	}
	if !exists {
		vault.Zero(s.Password)
		s.Password = nil
		return s.runSetup(ctx)
	}

	limit := s.MaxAttempts
	if limit <= 0 {
		limit = DefaultMaxAttempts
	}

	pw := s.Password
	s.Password = nil
	for attempt := 1; attempt <= limit; attempt++ {
		if err := ctx.Err(); err != nil {
			vault.Zero(pw)
			return vault.Record{}, nil, err
		}
		if pw == nil {
			pw, err = s.Prompter.ReadPassword(ctx, "Vault password: ")
			if err != nil {
				return vault.Record{}, nil, fmt.Errorf("read password: %w", err)
			}
		}
		if err := ctx.Err(); err != nil {
			vault.Zero(pw)
			return vault.Record{}, nil, err
		}

		rec, err := s.Vault.Unlock(pw)
		switch {
		case err == nil:
			s.Logger.DebugContext(ctx, "vault unlocked", "attempt", attempt, "record", rec)
			return rec, pw, nil
		case errors.Is(err, vault.ErrAuthFailed):
			vault.Zero(pw)
			pw = nil
			s.Logger.WarnContext(ctx, "unlock failed", "attempt", attempt, "max_attempts", limit)
			printErr(s.Out, "incorrect password")
		case errors.Is(err, vault.ErrVaultNotFound):
			vault.Zero(pw)
			return s.runSetup(ctx)
		default:
			vault.Zero(pw)
			return vault.Record{}, nil, err
		}
	}
	return vault.Record{}, nil, ErrTooManyAttempts
}

func (s *Session) runSetup(ctx context.Context) (vault.Record, []byte, error) {
	if s.Setup == nil {
		return vault.Record{}, nil, vault.ErrVaultNotFound
	}
	fmt.Fprintln(s.Out, "No stored credentials found.")
	rec, err := s.Setup.Run(ctx)
	return rec, nil, err
}
