// The catalog of a database file is the sqlite_master table at root page 1.
// Every table, index, view and trigger has one row there holding its type,
// name, owning table, root page and the normalized CREATE statement:
//
//	CREATE TABLE t(a,b)                     stored as written from the name on
//	CREATE INDEX idx_t_a ON t(a)
//	sqlite_autoindex_t_1                    sql is NULL, implied by UNIQUE
//	CREATE VIRTUAL TABLE v USING m(x)       rootpage 0
//
// A Schema is the decoded form of those rows. LoadFromMaster rebuilds it from
// a b-tree; the engine reloads it whenever the schema version in meta slot 1
// differs from Schema.Cookie.
//
// # Type Affinity
//
// Column affinity follows the declared type, using record.AffinityOf:
//
//	"INTEGER", "BIGINT"       INTEGER
//	"VARCHAR(100)", "TEXT"    TEXT
//	"BLOB", ""                BLOB
//	"REAL", "DOUBLE"          REAL
//	anything else             NUMERIC
//
// # Rowid Alias
//
// A table whose only PRIMARY KEY column is declared exactly INTEGER stores
// that column as the rowid and gets no automatic index for it.
package schema
