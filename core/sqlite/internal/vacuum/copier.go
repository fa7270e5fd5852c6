package vacuum

const (
	copyTables = "SELECT 'INSERT INTO vacuum_db.' || quote(name) " +
		"|| ' SELECT * FROM ' || quote(name) || ';' " +
		"FROM sqlite_master " +
		"WHERE type = 'table' AND name!='sqlite_sequence' " +
		"AND rootpage>0"

	clearSequence = "SELECT 'DELETE FROM vacuum_db.' || quote(name) || ';' " +
		"FROM vacuum_db.sqlite_master WHERE name='sqlite_sequence' "

	copySequence = "SELECT 'INSERT INTO vacuum_db.' || quote(name) " +
		"|| ' SELECT * FROM ' || quote(name) || ';' " +
		"FROM vacuum_db.sqlite_master WHERE name=='sqlite_sequence';"

	copyCatalogOnly = "INSERT INTO vacuum_db.sqlite_master " +
		"SELECT type, name, tbl_name, rootpage, sql" +
		"  FROM sqlite_master" +
		" WHERE type='view' OR type='trigger'" +
		"    OR (type='table' AND rootpage=0)"
)

// CopyData fills every scratch table from the source table of the same name.
// The unqualified source name resolves to main.
func CopyData(r *Runner) error {
	return r.RunGenerated(copyTables)
}

// CopySequence replaces the scratch sqlite_sequence, which the table copies
// have filled with fresh counters, with the source's rows.
func CopySequence(r *Runner) error {
	if err := r.RunGenerated(clearSequence); err != nil {
		return err
	}
	return r.RunGenerated(copySequence)
}

// CopyCatalogOnly copies views, triggers and virtual tables, which have no
// b-tree of their own, as bare catalog rows.
func CopyCatalogOnly(r *Runner) error {
	return r.Run(copyCatalogOnly)
}
