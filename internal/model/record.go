package model

import (
	"crypto/sha256"
	"encoding/hex"
	"maps"
	"slices"
	"time"
)

// DataType is the kind of data an adaptor synchronises.
type DataType string

const (
	DataTypeContacts      DataType = "contacts"
	DataTypeCalendars     DataType = "calendars"
	DataTypeNotifications DataType = "notifications"
	DataTypePosts         DataType = "posts"
	DataTypeSignon        DataType = "signon"
)

// Valid reports whether d is a known data type.
func (d DataType) Valid() bool {
	switch d {
	case DataTypeContacts, DataTypeCalendars, DataTypeNotifications, DataTypePosts, DataTypeSignon:
		return true
	}
	return false
}

// Record is the normalised form of a provider item (contact, event,
// notification, post) keyed by its provider-stable remote identifier.
type Record struct {
	// RemoteID is the provider's stable identifier. It is the matching key
	// for reconciliation; local ids are never used for matching.
	RemoteID string

	// LocalID is the store-assigned identifier. Empty for records that have
	// not been persisted yet.
	LocalID string

	AccountID AccountID
	DataType  DataType

	// Fields holds the comparable content of the record.
	Fields map[string]string

	// Volatile holds derived or locally cached values (thumbnail paths,
	// fetch timestamps) that are stored but never compared.
	Volatile map[string]string

	UpdatedAt time.Time
}

// Equal reports whether two records carry the same comparable content.
// Volatile values are excluded.
func (r *Record) Equal(other *Record) bool {
	if r == nil || other == nil {
		return r == other
	}
	return r.RemoteID == other.RemoteID && maps.Equal(r.Fields, other.Fields)
}

// ContentHash returns a deterministic SHA-256 digest over RemoteID and the
// sorted Fields. Volatile values and timestamps are excluded.
func (r *Record) ContentHash() string {
	h := sha256.New()
	h.Write([]byte(r.RemoteID))
	for _, k := range slices.Sorted(maps.Keys(r.Fields)) {
		h.Write([]byte{0})
		h.Write([]byte(k))
		h.Write([]byte{'='})
		h.Write([]byte(r.Fields[k]))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	cp := *r
	cp.Fields = maps.Clone(r.Fields)
	cp.Volatile = maps.Clone(r.Volatile)
	return &cp
}

// ChangeKind classifies a local modification awaiting upsync.
type ChangeKind int

const (
	ChangeNone ChangeKind = iota
	ChangeAdded
	ChangeModified
	ChangeDeleted
)

// String returns the persisted name of the change kind.
func (c ChangeKind) String() string {
	switch c {
	case ChangeAdded:
		return "added"
	case ChangeModified:
		return "modified"
	case ChangeDeleted:
		return "deleted"
	default:
		return ""
	}
}

// ParseChangeKind is the inverse of [ChangeKind.String].
func ParseChangeKind(s string) ChangeKind {
	switch s {
	case "added":
		return ChangeAdded
	case "modified":
		return ChangeModified
	case "deleted":
		return ChangeDeleted
	default:
		return ChangeNone
	}
}
