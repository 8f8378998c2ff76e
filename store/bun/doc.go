// Package bunstore implements the composite store on Postgres via the Bun
// ORM. Schema migrations are embedded SQL files applied in lexical order
// and tracked in a migrations table.
package bunstore
