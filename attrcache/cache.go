// Package attrcache caches parsed port attribute maps, keyed by the
// mtime+size of a port's Makefile set, so a repeat run skips a `make -V`
// shellout when nothing on disk has changed. Grounded on builddb's
// bbolt-backed bucket pattern (go.etcd.io/bbolt), generalized from
// CRC-keyed build records to mtime+size-keyed attribute snapshots.
package attrcache

import (
	"encoding/json"
	"fmt"
	"os"

	bolt "go.etcd.io/bbolt"

	"go-synth/port"
)

const bucketAttrs = "attrs"

// Cache wraps a bbolt database mapping origin -> cached attribute snapshot.
type Cache struct {
	db *bolt.DB
}

// Open opens or creates the cache database at path, initializing its
// bucket if needed, mirroring builddb.OpenDB.
func Open(path string) (*Cache, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, &Error{Op: "open", Err: err}
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketAttrs))
		return err
	})
	if err != nil {
		db.Close()
		return nil, &Error{Op: "create bucket", Err: err}
	}
	return &Cache{db: db}, nil
}

func (c *Cache) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

// entry is the on-disk record: the fingerprint the attributes were parsed
// under, plus the attributes themselves.
type entry struct {
	Fingerprint string          `json:"fingerprint"`
	Attrs       *port.Attributes `json:"attrs"`
}

// Fingerprint computes the mtime+size digest of a port's Makefile set
// (Attributes.Makefiles), the cache key's validity check. Two calls
// against an unchanged Makefile set return the same string.
func Fingerprint(makefiles []string) (string, error) {
	h := fnvHash{}
	for _, path := range makefiles {
		info, err := os.Stat(path)
		if err != nil {
			return "", err
		}
		h.writeString(path)
		h.writeInt64(info.Size())
		h.writeInt64(info.ModTime().UnixNano())
	}
	return h.sum(), nil
}

// Get returns the cached Attributes for origin if present and its stored
// fingerprint matches currentFingerprint. A fingerprint mismatch or
// missing entry both report ok=false so the caller falls through to
// portattr.Load.
func (c *Cache) Get(origin, currentFingerprint string) (attrs *port.Attributes, ok bool, err error) {
	err = c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketAttrs))
		data := b.Get([]byte(origin))
		if data == nil {
			return nil
		}
		var e entry
		if uerr := json.Unmarshal(data, &e); uerr != nil {
			return &Error{Op: "unmarshal", Origin: origin, Err: uerr}
		}
		if e.Fingerprint != currentFingerprint {
			return nil
		}
		attrs = e.Attrs
		ok = true
		return nil
	})
	return attrs, ok, err
}

// Peek returns the cached Attributes for origin regardless of fingerprint,
// for callers that need the stored Makefiles list to recompute a fresh
// Fingerprint before deciding whether to trust the entry (see
// portcache's loader, which has no Makefiles list of its own until
// something has queried the port at least once).
func (c *Cache) Peek(origin string) (attrs *port.Attributes, ok bool, err error) {
	err = c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketAttrs))
		data := b.Get([]byte(origin))
		if data == nil {
			return nil
		}
		var e entry
		if uerr := json.Unmarshal(data, &e); uerr != nil {
			return &Error{Op: "unmarshal", Origin: origin, Err: uerr}
		}
		attrs = e.Attrs
		ok = true
		return nil
	})
	return attrs, ok, err
}

// Put stores attrs for origin under fingerprint, overwriting any prior
// entry.
func (c *Cache) Put(origin, fingerprint string, attrs *port.Attributes) error {
	e := entry{Fingerprint: fingerprint, Attrs: attrs}
	data, err := json.Marshal(&e)
	if err != nil {
		return &Error{Op: "marshal", Origin: origin, Err: err}
	}
	return c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketAttrs))
		return b.Put([]byte(origin), data)
	})
}

// Error wraps attrcache operation failures with operation and origin
// context, mirroring builddb's structured error types.
type Error struct {
	Op     string
	Origin string
	Err    error
}

func (e *Error) Error() string {
	if e.Origin != "" {
		return fmt.Sprintf("attrcache %s [%s]: %v", e.Op, e.Origin, e.Err)
	}
	return fmt.Sprintf("attrcache %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
