package transcribe

import "context"

// Context is an alias for context.Context, re-exported so call sites that
// only import transcribe do not need a second import.
type Context = context.Context
