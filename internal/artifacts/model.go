package artifacts

import (
	"strconv"
	"time"
)

// Link maps a content-addressed artifact id to where its bytes live.
type Link struct {
	ID         string
	Kind       string
	Name       string
	Size       int64
	Hash       string
	StorageKey string
	CreatedAt  time.Time
}

// LinkID derives an artifact id from kind, name, size and content hash. The id
// never depends on insertion order or on caller-supplied identifiers.
func LinkID(kind, name string, size int64, hash string) string {
	return kind + "_" + name + "_" + strconv.FormatInt(size, 10) + "_" + hash
}
