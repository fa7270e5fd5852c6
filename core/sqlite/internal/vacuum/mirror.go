package vacuum

// ScratchSchema is the name the scratch database is attached under.
const ScratchSchema = "vacuum_db"

// Queries generating the schema of the scratch database from the source
// catalog. The text after "CREATE TABLE ", "CREATE INDEX " or
// "CREATE UNIQUE INDEX " is reused as stored.
const (
	mirrorTables = "SELECT 'CREATE TABLE vacuum_db.' || substr(sql,14) " +
		"FROM sqlite_master WHERE type='table' AND name!='sqlite_sequence' " +
		"AND rootpage>0"
	mirrorIndexes = "SELECT 'CREATE INDEX vacuum_db.' || substr(sql,14) " +
		"FROM sqlite_master WHERE sql LIKE 'CREATE INDEX %'"
	mirrorUniqueIndexes = "SELECT 'CREATE UNIQUE INDEX vacuum_db.' || substr(sql,21) " +
		"FROM sqlite_master WHERE sql LIKE 'CREATE UNIQUE INDEX %'"
)

// MirrorSchema recreates the source's tables, then its indexes, then its
// unique indexes in the scratch database.
func MirrorSchema(r *Runner) error {
	for _, q := range []string{mirrorTables, mirrorIndexes, mirrorUniqueIndexes} {
		if err := r.RunGenerated(q); err != nil {
			return err
		}
	}
	return nil
}
