package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content hashes.
// Version suffix enables future algorithm migration.
const (
	DomainDefinition = "mentat/definition/v1"
	DomainVocabulary = "mentat/vocabulary/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
// The null separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// DefinitionHash is the content hash of one attribute definition.
// Two definitions hash equal iff they are Equal.
func DefinitionHash(d Definition) (string, error) {
	canonical, err := MarshalCanonical(d)
	if err != nil {
		return "", fmt.Errorf("DefinitionHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainDefinition, canonical), nil
}

// VocabularyHash is the content hash of a vocabulary's name, version, and
// ordered definitions. The store-assigned Entid is excluded, so the same
// vocabulary hashes equal across stores.
func VocabularyHash(name Keyword, version Version, defs []Definition) (string, error) {
	attrs := make([]any, len(defs))
	for i, d := range defs {
		attrs[i] = d
	}
	obj := map[string]any{
		"name":       name,
		"version":    version,
		"attributes": attrs,
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("VocabularyHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainVocabulary, canonical), nil
}

// MustDefinitionHash is like DefinitionHash but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustDefinitionHash(d Definition) string {
	h, err := DefinitionHash(d)
	if err != nil {
		panic(err)
	}
	return h
}
