package vault

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Vault owns the encrypted credential file at Filename. It holds no key
// material between calls; every operation re-derives from the password.
type Vault struct {
	Filename string
	KDF      *KDFParams

	// beforeCommit runs between staging and renaming a new vault file.
	beforeCommit func(tmpPath string) error
}

// NewVault returns a vault bound to filename. kdf sets the work factor for
// vaults created from scratch; existing files carry their own parameters.
func NewVault(filename string, kdf *KDFParams) *Vault {
	if kdf == nil {
		kdf = DefaultKDFParams()
	}
	return &Vault{Filename: filename, KDF: kdf}
}

// Exists reports whether a vault file is present.
func (v *Vault) Exists() (bool, error) {
	_, err := os.Stat(v.Filename)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("vault: stat %s: %w", v.Filename, err)
}

// Seal encrypts rec under password and atomically replaces the vault
// file. The salt and work factor of an existing vault are reused; a new
// salt is generated only when no vault exists yet.
func (v *Vault) Seal(rec Record, password []byte) error {
	params, err := v.currentParams()
	if errors.Is(err, ErrVaultNotFound) {
		params, err = v.freshParams()
	}
	if err != nil {
		return err
	}
	return v.seal(rec, password, params)
}

// ResetCredentials seals rec under a freshly generated salt, discarding
// the old credential set.
func (v *Vault) ResetCredentials(rec Record, password []byte) error {
	params, err := v.freshParams()
	if err != nil {
		return err
	}
	return v.seal(rec, password, params)
}

// ChangePassword re-encrypts the stored record under newPassword.
func (v *Vault) ChangePassword(oldPassword, newPassword []byte) error {
	rec, err := v.Unlock(oldPassword)
	if err != nil {
		return err
	}
	return v.Seal(rec, newPassword)
}

// Unlock reads the vault file and decrypts it with password.
func (v *Vault) Unlock(password []byte) (Record, error) {
	header, aad, ct, err := v.read()
	if err != nil {
		return Record{}, err
	}

	key, err := DeriveKey(password, paramsFrom(header))
	if err != nil {
		return Record{}, err
	}
	defer Zero(key)

	pt, err := aeadOpen(key, header.Nonce, aad, ct)
	if err != nil {
		return Record{}, ErrAuthFailed
	}
	defer Zero(pt)

	return decodeRecord(pt)
}

// Remove deletes the vault file. Callers must have the user's explicit
// confirmation.
func (v *Vault) Remove() error {
	err := os.Remove(v.Filename)
	if errors.Is(err, fs.ErrNotExist) {
		return ErrVaultNotFound
	}
	if err != nil {
		return fmt.Errorf("vault: remove %s: %w", v.Filename, err)
	}
	return nil
}

func (v *Vault) seal(rec Record, password []byte, params *KDFParams) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	key, err := DeriveKey(password, params)
	if err != nil {
		return err
	}
	defer Zero(key)

	pt, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	defer Zero(pt)

	// The nonce is part of the associated data, so draw it first and
	// seal with the complete header.
	nonce, err := randBytes(NonceLen)
	if err != nil {
		return err
	}
	header := fileHeader{
		KDFAlgo:      kdfArgon2idHKDF,
		ArgonTime:    params.Time,
		ArgonMemory:  params.Memory,
		ArgonThreads: params.Threads,
		Salt:         params.Salt,
		Nonce:        nonce,
	}
	hdrBytes, err := encodeHeader(header)
	if err != nil {
		return err
	}

	ct, err := sealWithNonce(key, nonce, pt, hdrBytes)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(v.Filename), 0o700); err != nil {
		return fmt.Errorf("vault: create directory: %w", err)
	}

	raw := append(hdrBytes, ct...)
	if err := atomicWriteFile(v.Filename, raw, 0o600, v.beforeCommit); err != nil {
		return fmt.Errorf("vault: write %s: %w", v.Filename, err)
	}
	return nil
}

func (v *Vault) read() (fileHeader, []byte, []byte, error) {
	raw, err := os.ReadFile(v.Filename)
	if errors.Is(err, fs.ErrNotExist) {
		return fileHeader{}, nil, nil, ErrVaultNotFound
	}
	if err != nil {
		return fileHeader{}, nil, nil, fmt.Errorf("vault: read %s: %w", v.Filename, err)
	}
	return decodeHeader(raw)
}

func (v *Vault) currentParams() (*KDFParams, error) {
	header, _, _, err := v.read()
	if err != nil {
		return nil, err
	}
	return paramsFrom(header), nil
}

func (v *Vault) freshParams() (*KDFParams, error) {
	salt, err := randBytes(SaltLen)
	if err != nil {
		return nil, err
	}
	return &KDFParams{
		Time:    v.KDF.Time,
		Memory:  v.KDF.Memory,
		Threads: v.KDF.Threads,
		Salt:    salt,
	}, nil
}

func paramsFrom(h fileHeader) *KDFParams {
	return &KDFParams{
		Time:    h.ArgonTime,
		Memory:  h.ArgonMemory,
		Threads: h.ArgonThreads,
		Salt:    h.Salt,
	}
}
