// Package id provides type-prefixed, K-sortable identifiers for all
// transcribe entities, built on TypeID (UUIDv7-based).
package id

import (
	"database/sql/driver"
	"fmt"

	"go.jetify.com/typeid/v2"
)

// Prefix identifies the entity type encoded in a TypeID.
type Prefix string

// Entity prefixes.
const (
	PrefixJob           Prefix = "job"
	PrefixTranscription Prefix = "tr"
	PrefixWorker        Prefix = "wkr"
	PrefixCron          Prefix = "cron"
)

// ID is a type-prefixed identifier. The zero value is invalid; use New or
// Parse to obtain one, or Nil for the explicit null identifier.
type ID struct {
	inner typeid.TypeID
	valid bool
}

// Nil is the null identifier.
var Nil = ID{}

// New generates a fresh identifier with the given prefix. It panics when the
// prefix is not a valid TypeID prefix; all package-level prefixes are.
func New(prefix Prefix) ID {
	tid, err := typeid.Generate(string(prefix))
	if err != nil {
		panic(fmt.Sprintf("id: generate %q: %v", prefix, err))
	}
	return ID{inner: tid, valid: true}
}

// Parse parses an identifier of any prefix.
func Parse(s string) (ID, error) {
	tid, err := typeid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}
	return ID{inner: tid, valid: true}, nil
}

// ParseWithPrefix parses an identifier and verifies its prefix.
func ParseWithPrefix(s string, prefix Prefix) (ID, error) {
	parsed, err := Parse(s)
	if err != nil {
		return Nil, err
	}
	if parsed.Prefix() != prefix {
		return Nil, fmt.Errorf("id: expected prefix %q, got %q", prefix, parsed.Prefix())
	}
	return parsed, nil
}

// MustParse parses an identifier or panics.
func MustParse(s string) ID {
	parsed, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return parsed
}

// String returns the canonical textual form, or "" for Nil.
func (i ID) String() string {
	if !i.valid {
		return ""
	}
	return i.inner.String()
}

// Prefix returns the identifier's prefix.
func (i ID) Prefix() Prefix {
	if !i.valid {
		return ""
	}
	return Prefix(i.inner.Prefix())
}

// IsNil reports whether the identifier is the null identifier.
func (i ID) IsNil() bool { return !i.valid }

// MarshalText implements encoding.TextMarshaler.
func (i ID) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (i *ID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*i = Nil
		return nil
	}
	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}

// Value implements driver.Valuer. Nil maps to SQL NULL.
func (i ID) Value() (driver.Value, error) {
	if !i.valid {
		return nil, nil
	}
	return i.String(), nil
}

// Scan implements sql.Scanner.
func (i *ID) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*i = Nil
		return nil
	case string:
		return i.UnmarshalText([]byte(v))
	case []byte:
		return i.UnmarshalText(v)
	default:
		return fmt.Errorf("id: cannot scan %T", src)
	}
}

// Typed aliases. These are aliases rather than distinct types so shared
// helpers accept any of them; ParseWithPrefix enforces the boundary.
type (
	JobID           = ID
	TranscriptionID = ID
	WorkerID        = ID
	CronID          = ID
)

// NewJobID generates a job identifier.
func NewJobID() JobID { return New(PrefixJob) }

// NewTranscriptionID generates a transcription identifier.
func NewTranscriptionID() TranscriptionID { return New(PrefixTranscription) }

// NewWorkerID generates a worker identifier.
func NewWorkerID() WorkerID { return New(PrefixWorker) }

// NewCronID generates a cron entry identifier.
func NewCronID() CronID { return New(PrefixCron) }

// ParseJobID parses a job identifier.
func ParseJobID(s string) (JobID, error) { return ParseWithPrefix(s, PrefixJob) }

// ParseTranscriptionID parses a transcription identifier.
func ParseTranscriptionID(s string) (TranscriptionID, error) {
	return ParseWithPrefix(s, PrefixTranscription)
}

// ParseWorkerID parses a worker identifier.
func ParseWorkerID(s string) (WorkerID, error) { return ParseWithPrefix(s, PrefixWorker) }

// ParseCronID parses a cron entry identifier.
func ParseCronID(s string) (CronID, error) { return ParseWithPrefix(s, PrefixCron) }
