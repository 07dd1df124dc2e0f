// Package model defines the data structures used throughout the application.
//
// STRUCT TAGS:
// The json tags are the wire format of the HTTP API and of the stored
// fortune snapshot, so renaming a field is a breaking change for clients
// and for rows already written. Fields tagged `json:"-"` never leave the
// server:
//
//	User.CredentialHash  only auth.PasswordService reads it
//
// Storage does not use these tags. repository/sqlite maps columns by hand.
package model

import (
	"strings"
	"time"
)

// User is a patron identified by a lowercase, self-chosen handle.
//
// Collection holds distinct collectible ids in the order they were first
// acquired; CollectionCounts tracks how often each was drawn, capped at
// MaxCollectibleCount. Neither is touched by the daily reset.
type User struct {
	Handle           string      `json:"handle"`
	CredentialHash   string      `json:"-"` // bcrypt hash of the 4-digit credential
	Profile          Profile     `json:"profile"`
	Collection       []int       `json:"collection"`
	CollectionCounts map[int]int `json:"collectionCounts"`
	CreatedAt        time.Time   `json:"createdAt"`
	UpdatedAt        time.Time   `json:"updatedAt"`
}

// MaxCollectibleCount caps collection_counts per collectible id.
const MaxCollectibleCount = 10

// HasCollectible reports whether id is already in the user's collection.
func (u *User) HasCollectible(id int) bool {
	for _, c := range u.Collection {
		if c == id {
			return true
		}
	}
	return false
}

// TestIdentity matches the unlimited-use demo handles by prefix. An empty
// prefix matches nothing.
type TestIdentity string

// DefaultTestIdentity is the prefix used when none is configured.
const DefaultTestIdentity TestIdentity = "tester"

func (p TestIdentity) Matches(handle string) bool {
	return p != "" && strings.HasPrefix(strings.ToLower(handle), string(p))
}
