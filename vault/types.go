package vault

import (
	"errors"
	"fmt"
	"log/slog"
)

const (
	MasterKeyLen = 32
	KeyLen       = 32
	SaltLen      = 16
	NonceLen     = 24
	TagLen       = 16
	Magic        = "ALVT"
	Version      = 0x01

	kdfArgon2idHKDF = 0x01

	// headerLen is the encoded size of fileHeader with SaltLen and NonceLen.
	headerLen = 4 + 1 + 1 + 4 + 4 + 1 + 1 + SaltLen + 1 + NonceLen
)

var (
	ErrVaultNotFound = errors.New("vault: no vault file, run setup first")
	ErrCorrupt       = errors.New("vault: malformed vault file")
	ErrAuthFailed    = errors.New("vault: incorrect password or corrupt vault")
	ErrInvalidSalt   = errors.New("vault: invalid salt length")
)

// ValidationError reports a record field that cannot be sealed.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("vault: invalid %s: %s", e.Field, e.Reason)
}

// Record is the plaintext credential pair held in the vault.
type Record struct {
	BaseURL string `json:"base_url"`
	APIKey  string `json:"api_key"`
}

func (r Record) String() string {
	return fmt.Sprintf("{base_url:%s api_key:[redacted]}", r.BaseURL)
}

// LogValue keeps the API key out of structured logs.
func (r Record) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("base_url", r.BaseURL),
		slog.String("api_key", "[redacted]"),
	)
}

type KDFParams struct {
	Time, Memory uint32
	Threads      uint8
	Salt         []byte
}

type fileHeader struct {
	KDFAlgo      uint8
	ArgonTime    uint32
	ArgonMemory  uint32
	ArgonThreads uint8
	Salt         []byte
	Nonce        []byte
}
