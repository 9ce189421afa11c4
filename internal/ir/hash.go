package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainStatement = "huntflow/statement/v1"
	DomainRows      = "huntflow/rows/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte (0x00) separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// StatementID computes a content-addressed id for a statement at a given
// position in a huntflow. The id is stable across runs of the same source.
func StatementID(source string, seq int64) (string, error) {
	obj := IRObject{
		"source": IRString(source),
		"seq":    IRInt(seq),
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("StatementID: failed to marshal: %w", err)
	}

	return hashWithDomain(DomainStatement, canonical), nil
}

// RowsDigest hashes an ordered row set. Two row sets with the same rows in the
// same order always produce the same digest regardless of map iteration order.
func RowsDigest(rows []IRObject) (string, error) {
	arr := make(IRArray, len(rows))
	for i, row := range rows {
		arr[i] = row
	}

	canonical, err := MarshalCanonical(arr)
	if err != nil {
		return "", fmt.Errorf("RowsDigest: failed to marshal: %w", err)
	}

	return hashWithDomain(DomainRows, canonical), nil
}
