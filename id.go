package transcribe

import "github.com/robertor4/transcribe-sub002/id"

// ID is the primary identifier type for all transcribe entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
