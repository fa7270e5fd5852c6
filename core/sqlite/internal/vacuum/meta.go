package vacuum

import (
	"github.com/FocuswithJustin/sqlcompact/core/sqlite/internal/pager"
)

// MetaCopy is one page-1 meta slot carried from the source to the scratch
// store, plus the amount added on the way.
type MetaCopy struct {
	Slot      int
	Increment uint32
}

// PreservedMeta lists the slots a run carries over, in order. The schema
// cookie is bumped so other connections reload their schema.
var PreservedMeta = []MetaCopy{
	{pager.MetaSchemaVersion, 1},
	{pager.MetaDefaultCache, 0},
	{pager.MetaTextEncoding, 0},
	{pager.MetaUserVersion, 0},
}

// CopyMeta writes each preserved slot of src into dst. dst must be in a
// write transaction. A failure here means the stores are not in the state
// the run put them in, so it is reported as internal.
func CopyMeta(src, dst *pager.Pager) error {
	for _, m := range PreservedMeta {
		v, err := src.Meta(m.Slot)
		if err != nil {
			return internalError("read meta", err)
		}
		if err := dst.SetMeta(m.Slot, v+m.Increment); err != nil {
			return internalError("write meta", err)
		}
	}
	return nil
}
