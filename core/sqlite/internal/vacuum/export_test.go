package vacuum

// Store hooks, exposed for fault injection.
var (
	SetPageSizeHook = &setPageSize
	CopyMetaHook    = &copyMeta
	CopyFileHook    = &copyFile
	CommitHook      = &commit
	AfterStepHook   = &afterStep
)
