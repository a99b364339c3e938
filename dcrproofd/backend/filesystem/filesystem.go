// Copyright (c) 2017-2019 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package filesystem

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	v1 "github.com/decred/dcrproof/api/v1"
	"github.com/decred/dcrproof/dcrproofd/backend"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

const (
	dbDir     = "records"
	mapPrefix = "map-"
	secretKey = "webhook-secret"
)

var (
	_ backend.Backend = (*FileSystem)(nil)

	errInvalidDB = errors.New("not a database") // Should not happen

	// reserved are the singleton keys that do not hold records.
	reserved = map[string]struct{}{
		v1.FeedUnconfirmed: {},
		v1.FeedConfirmed:   {},
		secretKey:          {},
	}
)

// FileSystem is a leveldb implementation of a backend.  Records live under
// their payment address and are reachable from the digest through a
// map-{digest} index key.  Feeds are singleton keys holding JSON arrays.
//
// All read-modify-write cycles take the write lock.  The lock is only ever
// held across local database calls.
type FileSystem struct {
	sync.RWMutex

	root string      // Root directory
	db   *leveldb.DB // Records database
}

// isRecordKey returns false for the index and singleton keys.
func isRecordKey(key string) bool {
	if strings.HasPrefix(key, mapPrefix) {
		return false
	}
	_, ok := reserved[key]
	return !ok
}

func mapKey(digest string) []byte {
	return []byte(mapPrefix + strings.ToLower(digest))
}

// EncodeRecord encodes given backend.Record to a []byte
func EncodeRecord(r backend.Record) ([]byte, error) {
	return json.Marshal(r)
}

// DecodeRecord decodes given []byte payload to a backend.Record
func DecodeRecord(payload []byte) (*backend.Record, error) {
	var r backend.Record

	err := json.Unmarshal(payload, &r)
	if err != nil {
		return nil, err
	}

	return &r, nil
}

// get returns the decoded record stored under address.
//
// This function must be called with the lock held.
func (fs *FileSystem) get(address string) (*backend.Record, error) {
	if !isRecordKey(address) {
		return nil, backend.ErrNotFound
	}
	payload, err := fs.db.Get([]byte(address), nil)
	if err == leveldb.ErrNotFound {
		return nil, backend.ErrNotFound
	} else if err != nil {
		return nil, err
	}
	return DecodeRecord(payload)
}

// feed returns the decoded feed stored under name.
//
// This function must be called with the lock held.
func (fs *FileSystem) feed(name string) ([]v1.FeedEntry, error) {
	payload, err := fs.db.Get([]byte(name), nil)
	if err == leveldb.ErrNotFound {
		return []v1.FeedEntry{}, nil
	} else if err != nil {
		return nil, err
	}
	var entries []v1.FeedEntry
	if err := json.Unmarshal(payload, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// Address returns the payment address mapped to digest.
//
// Address satisfies the backend interface.
func (fs *FileSystem) Address(digest string) (string, error) {
	fs.RLock()
	defer fs.RUnlock()

	address, err := fs.db.Get(mapKey(digest), nil)
	if err == leveldb.ErrNotFound {
		return "", backend.ErrNotFound
	} else if err != nil {
		return "", err
	}
	return string(address), nil
}

// Get returns the record stored under address.
//
// Get satisfies the backend interface.
func (fs *FileSystem) Get(address string) (*backend.Record, error) {
	fs.RLock()
	defer fs.RUnlock()

	return fs.get(address)
}

// Insert writes the digest index and the record in a single batch.
//
// Insert satisfies the backend interface.
func (fs *FileSystem) Insert(r *backend.Record) error {
	payload, err := EncodeRecord(*r)
	if err != nil {
		return err
	}

	fs.Lock()
	defer fs.Unlock()

	key := mapKey(r.Digest)
	address, err := fs.db.Get(key, nil)
	if err == nil {
		return backend.ExistsError{Address: string(address)}
	} else if err != leveldb.ErrNotFound {
		return err
	}

	if !isRecordKey(r.Address) {
		return errors.New("reserved address: " + r.Address)
	}

	// Addresses are never reused.
	found, err := fs.db.Has([]byte(r.Address), nil)
	if err != nil {
		return err
	}
	if found {
		return errors.New("address already in use: " + r.Address)
	}

	batch := new(leveldb.Batch)
	batch.Put(key, []byte(r.Address))
	batch.Put([]byte(r.Address), payload)
	return fs.db.Write(batch, nil)
}

// Update performs an atomic read-modify-write of the record stored under
// address.
//
// Update satisfies the backend interface.
func (fs *FileSystem) Update(address string, fn backend.UpdateFunc) (*backend.Record, error) {
	fs.Lock()
	defer fs.Unlock()

	r, err := fs.get(address)
	if err != nil {
		return nil, err
	}
	changed, err := fn(r)
	if err != nil {
		return nil, err
	}
	if !changed {
		return r, nil
	}

	payload, err := EncodeRecord(*r)
	if err != nil {
		return nil, err
	}
	err = fs.db.Put([]byte(address), payload, nil)
	if err != nil {
		return nil, err
	}

	return r, nil
}

// ForEach calls fn for every record in the database.
//
// ForEach satisfies the backend interface.
func (fs *FileSystem) ForEach(fn func(backend.Record) error) error {
	fs.RLock()
	defer fs.RUnlock()

	iter := fs.db.NewIterator(nil, nil)
	defer iter.Release()
	for iter.Next() {
		if !isRecordKey(string(iter.Key())) {
			continue
		}
		r, err := DecodeRecord(iter.Value())
		if err != nil {
			return err
		}
		if err := fn(*r); err != nil {
			return err
		}
	}
	return iter.Error()
}

// PushFeed prepends entry to the named feed and evicts the oldest entries
// beyond max.
//
// PushFeed satisfies the backend interface.
func (fs *FileSystem) PushFeed(name string, entry v1.FeedEntry, max int) error {
	fs.Lock()
	defer fs.Unlock()

	entries, err := fs.feed(name)
	if err != nil {
		return err
	}
	entries = append([]v1.FeedEntry{entry}, entries...)
	if len(entries) > max {
		entries = entries[:max]
	}
	payload, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	return fs.db.Put([]byte(name), payload, nil)
}

// Feed returns the named feed.
//
// Feed satisfies the backend interface.
func (fs *FileSystem) Feed(name string) ([]v1.FeedEntry, error) {
	fs.RLock()
	defer fs.RUnlock()

	return fs.feed(name)
}

// Secret returns the stored webhook secret, storing candidate if there is
// none yet.
//
// Secret satisfies the backend interface.
func (fs *FileSystem) Secret(candidate string) (string, error) {
	fs.Lock()
	defer fs.Unlock()

	secret, err := fs.db.Get([]byte(secretKey), nil)
	if err == nil {
		return string(secret), nil
	} else if err != leveldb.ErrNotFound {
		return "", err
	}
	if candidate == "" {
		return "", errors.New("empty secret")
	}
	err = fs.db.Put([]byte(secretKey), []byte(candidate), nil)
	if err != nil {
		return "", err
	}
	return candidate, nil
}

// Close is a required interface function.  In our case we close the
// database.
//
// Close satisfies the backend interface.
func (fs *FileSystem) Close() {
	// Block until last command is complete.
	fs.Lock()
	defer fs.Unlock()
	defer log.Infof("Exiting")

	fs.db.Close()
}

// New creates a new backend instance rooted at root.  The caller should
// issue a Close once the FileSystem backend is no longer needed.
func New(root string) (*FileSystem, error) {
	path := filepath.Join(root, dbDir)
	err := os.MkdirAll(path, 0700)
	if err != nil {
		return nil, err
	}

	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}

	log.Infof("Database: %v", path)

	return &FileSystem{
		root: root,
		db:   db,
	}, nil
}

// NewDump opens an existing database without creating one.  It is used by
// the maintenance tools.
func NewDump(root string) (*FileSystem, error) {
	// Stat path first so that we don't create a database.  Leveldb WILL
	// create a directory even if ErrorIfMissing = true.
	path := filepath.Join(root, dbDir)
	fi, err := os.Stat(path)
	if err != nil {
		return nil, os.ErrNotExist
	}
	if !fi.Mode().IsDir() {
		return nil, errInvalidDB
	}
	db, err := leveldb.OpenFile(path, &opt.Options{ErrorIfMissing: true})
	if err != nil {
		return nil, err
	}
	return &FileSystem{root: root, db: db}, nil
}
