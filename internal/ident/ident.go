// Package ident derives vector-store keys from external item identifiers.
//
// The vector index requires UUID-shaped keys while the catalog's natural
// identifiers are arbitrary strings (SKUs, merchant codes, URLs). DeriveKey
// bridges the two with a version-5 UUID: the same external_id always maps
// to the same key, so upserts are idempotent and deletion needs no side
// table mapping external ids to vector keys.
package ident

import "github.com/google/uuid"

// Namespace scopes the derivation so keys cannot collide with v5 UUIDs
// another application derives from the same identifiers.
var Namespace = uuid.NewSHA1(uuid.NameSpaceDNS, []byte("catalog.vitrine-search.dev"))

// DeriveKey returns the vector-store key for an external identifier.
// Pure and total: identical input always yields an identical key, and any
// string is valid input, including the empty string.
func DeriveKey(externalID string) string {
	return uuid.NewSHA1(Namespace, []byte(externalID)).String()
}

// NewTaskID returns a random unique identifier for a unit of work.
// Unlike DeriveKey this is intentionally non-deterministic: two
// submissions for the same item are distinct units.
func NewTaskID() string {
	return uuid.NewString()
}
