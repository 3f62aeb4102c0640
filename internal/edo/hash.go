// Package edo implements the append-only decision log: EDO records, the id
// index kept bijective with them, and tamper-evident verification.
package edo

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/chorus-dao/kodo/internal/model"
)

// hashPrefix versions the content hash encoding. All hashes use the
// length-prefixed v2 format.
const hashPrefix = "v2:"

// ContentHash produces a versioned SHA-256 hex digest over the canonical EDO
// fields. Each field is written with a 4-byte big-endian length prefix so
// freeform text can never collide across field boundaries.
func ContentHash(charterID string, alternatives []string, chosen, rationale string, createdAt time.Time, salt string) string {
	h := sha256.New()
	writeField := func(s string) {
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(s)))
		h.Write(lenBuf[:])
		h.Write([]byte(s))
	}
	writeField(charterID)
	writeField(strconv.Itoa(len(alternatives)))
	for _, a := range alternatives {
		writeField(a)
	}
	writeField(chosen)
	writeField(rationale)
	writeField(createdAt.UTC().Format(time.RFC3339Nano))
	writeField(salt)
	return hashPrefix + hex.EncodeToString(h.Sum(nil))
}

// VerifyContentHash checks whether a record's stored hash matches the hash
// recomputed from its canonical fields.
func VerifyContentHash(e model.EDO) bool {
	if !strings.HasPrefix(e.ContentHash, hashPrefix) {
		return false
	}
	return e.ContentHash == ContentHash(e.CharterID, e.Alternatives, e.Chosen, e.Rationale, e.CreatedAt, e.Salt)
}

// hashPair produces SHA-256(0x01 || a || b) as a hex string. The 0x01 prefix
// is a domain separator for internal Merkle tree nodes (per RFC 6962), so
// internal node hashes can never collide with leaf content hashes.
func hashPair(a, b string) string {
	h := sha256.New()
	h.Write([]byte{0x01})
	h.Write([]byte(a))
	h.Write([]byte(b))
	return hex.EncodeToString(h.Sum(nil))
}

// MerkleRoot constructs a Merkle tree from leaf hashes and returns the root.
// Leaves must be sorted lexicographically by the caller for determinism.
// Odd-length levels hash the last node with itself for structural binding.
func MerkleRoot(leaves []string) string {
	if len(leaves) == 0 {
		return ""
	}
	if len(leaves) == 1 {
		return leaves[0]
	}

	level := make([]string, len(leaves))
	copy(level, leaves)

	for len(level) > 1 {
		var next []string
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, hashPair(level[i], level[i+1]))
			} else {
				next = append(next, hashPair(level[i], level[i]))
			}
		}
		level = next
	}
	return level[0]
}
