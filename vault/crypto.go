package vault

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// hkdfInfo domain-separates the vault key from anything else derived
// from the same Argon2id output.
var hkdfInfo = []byte("assetlabel vault v1")

// Zero overwrites b in place. Used for passwords and key material.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func randBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, fmt.Errorf("vault: read random bytes: %w", err)
	}
	return b, nil
}

// DefaultKDFParams returns the work factor used for new vaults:
// Argon2id with 3 passes over 64 MiB on 4 lanes.
func DefaultKDFParams() *KDFParams { return &KDFParams{Time: 3, Memory: 64 * 1024, Threads: 4} }

// Upper bounds keep a tampered header from turning unlock into a
// memory or CPU exhaustion.
const (
	maxArgonTime    = 16
	maxArgonMemory  = 1024 * 1024 // KiB
	maxArgonThreads = 64
)

func checkParams(p *KDFParams) error {
	if len(p.Salt) != SaltLen {
		return ErrInvalidSalt
	}
	if p.Time == 0 || p.Time > maxArgonTime ||
		p.Threads == 0 || p.Threads > maxArgonThreads ||
		p.Memory < 8*uint32(p.Threads) || p.Memory > maxArgonMemory {
		return ErrCorrupt
	}
	return nil
}

// DeriveKey stretches password with Argon2id over params.Salt and expands
// the result into a KeyLen-byte vault key with HKDF-SHA256.
func DeriveKey(password []byte, params *KDFParams) ([]byte, error) {
	if err := checkParams(params); err != nil {
		return nil, err
	}
	master := argon2.IDKey(password, params.Salt, params.Time, params.Memory, params.Threads, MasterKeyLen)
	defer Zero(master)

	h := hkdf.New(sha256.New, master, nil, hkdfInfo)
	key := make([]byte, KeyLen)
	if _, err := io.ReadFull(h, key); err != nil {
		return nil, err
	}
	return key, nil
}

func sealWithNonce(key, nonce, plaintext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	return aead.Seal(nil, nonce, plaintext, aad), nil
}

func aeadOpen(key, nonce, aad, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	return aead.Open(nil, nonce, ciphertext, aad)
}

func encodeHeader(h fileHeader) ([]byte, error) {
	if len(h.Salt) != SaltLen {
		return nil, ErrInvalidSalt
	}
	if len(h.Nonce) != NonceLen {
		return nil, fmt.Errorf("vault: nonce must be %d bytes", NonceLen)
	}

	buf := bytes.NewBuffer(make([]byte, 0, headerLen))
	buf.WriteString(Magic)
	buf.WriteByte(Version)
	buf.WriteByte(h.KDFAlgo)
	_ = binary.Write(buf, binary.BigEndian, h.ArgonTime)
	_ = binary.Write(buf, binary.BigEndian, h.ArgonMemory)
	buf.WriteByte(h.ArgonThreads)

	buf.WriteByte(uint8(len(h.Salt)))
	buf.Write(h.Salt)

	buf.WriteByte(uint8(len(h.Nonce)))
	buf.Write(h.Nonce)

	return buf.Bytes(), nil
}

// decodeHeader splits raw into header, the header bytes used as
// associated data, and the sealed payload. Any structural problem is
// reported as ErrCorrupt.
func decodeHeader(raw []byte) (fileHeader, []byte, []byte, error) {
	var h fileHeader
	if len(raw) < headerLen+TagLen {
		return h, nil, nil, ErrCorrupt
	}

	r := bytes.NewReader(raw)

	magic := make([]byte, len(Magic))
	if _, err := io.ReadFull(r, magic); err != nil || string(magic) != Magic {
		return h, nil, nil, ErrCorrupt
	}

	var version byte
	if err := binary.Read(r, binary.BigEndian, &version); err != nil || version != Version {
		return h, nil, nil, ErrCorrupt
	}

	fields := []any{&h.KDFAlgo, &h.ArgonTime, &h.ArgonMemory, &h.ArgonThreads}
	for _, f := range fields {
		if err := binary.Read(r, binary.BigEndian, f); err != nil {
			return h, nil, nil, ErrCorrupt
		}
	}
	if h.KDFAlgo != kdfArgon2idHKDF {
		return h, nil, nil, ErrCorrupt
	}

	var err error
	if h.Salt, err = readField(r, SaltLen); err != nil {
		return h, nil, nil, err
	}
	if h.Nonce, err = readField(r, NonceLen); err != nil {
		return h, nil, nil, err
	}

	hdrLen := len(raw) - r.Len()
	return h, raw[:hdrLen], raw[hdrLen:], nil
}

// readField reads a length-prefixed field that must be exactly want bytes.
func readField(r *bytes.Reader, want int) ([]byte, error) {
	n, err := r.ReadByte()
	if err != nil || int(n) != want {
		return nil, ErrCorrupt
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, ErrCorrupt
	}
	return b, nil
}

// atomicWriteFile stages data in a temp file next to path and renames it
// into place. commit, when non-nil, runs after the temp file is durable
// and before the rename; an error from it aborts the write. The temp file
// never outlives this call.
func atomicWriteFile(path string, data []byte, perm os.FileMode, commit func(tmpPath string) error) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, ".alvt-*")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	defer func() {
		tmpFile.Close()
		os.Remove(tmpPath)
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return err
	}
	if err := tmpFile.Chmod(perm); err != nil {
		return err
	}
	if err := tmpFile.Sync(); err != nil {
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}

	if commit != nil {
		if err := commit(tmpPath); err != nil {
			return err
		}
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}

	_ = syncDir(dir)
	return nil
}

func syncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
