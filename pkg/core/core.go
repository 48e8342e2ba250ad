package core

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pierrec/lz4/v4"
	"lukechampine.com/blake3"
)

var bufferPool = sync.Pool{New: func() interface{} { return new(bytes.Buffer) }}

// --- Compression ---

func Compress(src []byte) ([]byte, error) {
	buf := bufferPool.Get().(*bytes.Buffer)
	defer bufferPool.Put(buf)
	buf.Reset()

	w := lz4.NewWriter(buf)
	if _, err := w.Write(src); err != nil {
		return nil, fmt.Errorf("lz4 write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("lz4 close: %w", err)
	}

	// Return strictly sized slice
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

func Decompress(src []byte) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(src))
	var out bytes.Buffer
	if _, err := out.ReadFrom(r); err != nil {
		return nil, fmt.Errorf("lz4 read: %w", err)
	}
	return out.Bytes(), nil
}

// --- Hashing ---

func Hash(data []byte) string {
	h := blake3.Sum256(data)
	return hex.EncodeToString(h[:])
}

// HashParts hashes the parts joined by '|'.
func HashParts(parts ...string) string {
	return Hash([]byte(strings.Join(parts, "|")))
}

// HashJSON hashes the canonical JSON encoding of v. Map keys are sorted by
// encoding/json, so equal values always hash equal.
func HashJSON(v any) (string, []byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", nil, err
	}
	return Hash(raw), raw, nil
}

// SeedPair derives two PRNG seed words from the parts.
func SeedPair(parts ...string) (uint64, uint64) {
	h := blake3.Sum256([]byte(strings.Join(parts, "|")))
	return binary.BigEndian.Uint64(h[:8]), binary.BigEndian.Uint64(h[8:16])
}

// --- Identity ---

var namespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("fleetcommand"))

// DeterministicID returns a v5 UUID for the given kind and sequence, so replays
// of the same inputs produce the same ids.
func DeterministicID(kind string, scope string, seq uint64) string {
	return uuid.NewSHA1(namespace, []byte(fmt.Sprintf("%s:%s:%d", kind, scope, seq))).String()
}
