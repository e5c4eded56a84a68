package fpcache

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Fingerprint derives a deterministic key of the form "<namespace>:<16 hex>"
// from the SHA-256 of the canonical JSON form of params.
//
// Object keys are sorted at every depth, so struct field order and map
// iteration order never change the key. Callers put wall-clock buckets
// such as the current day into params to get per-day cache generations.
func Fingerprint(namespace string, params any) (string, error) {
	canonical, err := canonicalJSON(params)
	if err != nil {
		return "", fmt.Errorf("fingerprint %s: %w", namespace, err)
	}

	sum := sha256.Sum256(canonical)

	return namespace + ":" + hex.EncodeToString(sum[:8]), nil
}

// MustFingerprint is Fingerprint for params that always encode, such as
// maps of strings and numbers. It panics on encoding failure.
func MustFingerprint(namespace string, params any) string {
	key, err := Fingerprint(namespace, params)
	if err != nil {
		panic(err)
	}

	return key
}

// canonicalJSON round-trips params through a generic value so that
// encoding/json emits every object with sorted keys.
func canonicalJSON(params any) ([]byte, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}

	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var generic any
	if err := decoder.Decode(&generic); err != nil {
		return nil, fmt.Errorf("decode params: %w", err)
	}

	canonical, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("marshal canonical params: %w", err)
	}

	return canonical, nil
}
