// Package sqliteexternal links the CGO SQLite driver used as the reference
// implementation when sqlcompact is built with the cgo_sqlite tag.
//
//	CGO_ENABLED=1 go build -tags cgo_sqlite ./...
//
// The reference driver only reads: it cross-checks files written by the
// engine (sqlcompact verify) and backs the divergence tests. The default
// build uses modernc.org/sqlite instead.
package sqliteexternal
