package archive

// Store keeps raw payloads content-addressed by their checksum, for future
// reprocessing and audit. Writes are best-effort side effects of a successful
// ingest and are never part of the transactional guarantee.
type Store interface {
	// Put stores the payload under its checksum. Storing the same checksum
	// twice is a no-op.
	Put(checksum uint32, data []byte) error

	// Get reads a payload back by checksum.
	Get(checksum uint32) ([]byte, error)

	// Exists reports whether a payload with this checksum is archived.
	Exists(checksum uint32) (bool, error)
}
