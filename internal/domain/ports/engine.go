package ports

import (
	"context"

	"magnetstream/internal/domain"
)

// Engine is the external torrent collaborator. It owns peer discovery, piece
// selection and verification, and on-disk storage; this process only sees
// resolved handles and byte-range readers.
type Engine interface {
	// Resolve adds a magnet to the swarm and blocks until metadata (info
	// hash + file list) is available, the configured metadata timeout
	// expires, or ctx is cancelled. Resolving the same content twice
	// returns the same underlying handle.
	Resolve(ctx context.Context, magnet string) (Handle, error)
	// Drop releases the handle for the given info hash and forgets it.
	Drop(id domain.InfoHash) error
	Close() error
}

// Handle is a live engine-side torrent.
type Handle interface {
	InfoHash() domain.InfoHash
	Files() []domain.FileEntry
	// Prioritize marks one file as fetch-priority with the swarm scheduler.
	Prioritize(file domain.FileEntry)
	// Snapshot samples live progress. ok is false once the handle has been
	// dropped or closed, which callers treat as session teardown.
	Snapshot() (snap domain.ProgressSnapshot, ok bool)
	// NewReader opens an independent byte-range read source over one file.
	// Reads suspend until the requested bytes have been downloaded.
	NewReader(file domain.FileEntry) (StreamReader, error)
}
