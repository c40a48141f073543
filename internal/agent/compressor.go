package agent

// SnapshotCompressor reduces a raw accessibility-tree rendering to a smaller
// string for inclusion in the message log. The actual codec is out of scope
// for this package (spec.md 1, 4.B) — it is treated as an opaque pure
// function string -> string supplied by the caller.
type SnapshotCompressor func(tree string) string

// identityCompressor is the default used when no compressor is configured.
func identityCompressor(tree string) string {
	return tree
}
