// Copyright (c) 2020 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	v1 "github.com/decred/dcrproof/api/v1"
	"github.com/decred/dcrproof/dcrproofd/backend"
	_ "github.com/lib/pq"
)

const secretKey = "webhook-secret"

var _ backend.Backend = (*Postgres)(nil)

// Postgres is a postgreSQL implementation of a backend.  Read-modify-write
// cycles lock the record row with SELECT ... FOR UPDATE, which serializes
// concurrent updates of one address across processes sharing the database.
type Postgres struct {
	db *sql.DB // Postgres database
}

// Address returns the payment address mapped to digest.
func (pg *Postgres) Address(digest string) (string, error) {
	return selectAddress(pg.db, strings.ToLower(digest))
}

// Get returns the record stored under address.
func (pg *Postgres) Get(address string) (*backend.Record, error) {
	return selectRecord(pg.db, address, false)
}

// Insert stores a new record.  The unique digest column makes this atomic
// with respect to concurrent registrations of the same digest.
func (pg *Postgres) Insert(r *backend.Record) error {
	c := *r
	c.Digest = strings.ToLower(c.Digest)
	inserted, err := pg.insertRecord(&c)
	if err != nil {
		return err
	}
	if inserted {
		return nil
	}

	address, err := selectAddress(pg.db, c.Digest)
	if err != nil {
		return err
	}
	return backend.ExistsError{Address: address}
}

// Update performs an atomic read-modify-write of the record stored under
// address.
func (pg *Postgres) Update(address string, fn backend.UpdateFunc) (*backend.Record, error) {
	tx, err := pg.db.Begin()
	if err != nil {
		return nil, err
	}
	defer func() {
		// Rollback after Commit is a harmless no-op.
		tx.Rollback()
	}()

	r, err := selectRecord(tx, address, true)
	if err != nil {
		return nil, err
	}
	changed, err := fn(r)
	if err != nil {
		return nil, err
	}
	if !changed {
		return r, tx.Commit()
	}

	if err = updateRecord(tx, r); err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return r, nil
}

// ForEach calls fn for every record.
func (pg *Postgres) ForEach(fn func(backend.Record) error) error {
	records, err := pg.selectRecords()
	if err != nil {
		return err
	}
	for _, r := range records {
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}

// PushFeed prepends entry to the named feed and evicts the oldest entries
// beyond max.
func (pg *Postgres) PushFeed(name string, entry v1.FeedEntry, max int) error {
	tx, err := pg.db.Begin()
	if err != nil {
		return err
	}
	if err = insertFeedEntry(tx, name, entry, max); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Feed returns the named feed.
func (pg *Postgres) Feed(name string) ([]v1.FeedEntry, error) {
	return pg.selectFeed(name)
}

// Secret returns the stored webhook secret, storing candidate if there is
// none yet.
func (pg *Postgres) Secret(candidate string) (string, error) {
	if candidate == "" {
		return "", errors.New("empty secret")
	}
	return pg.insertSetting(secretKey, candidate)
}

// Dump writes all records and feeds to f.
func (pg *Postgres) Dump(f *os.File, human bool) error {
	err := pg.ForEach(func(r backend.Record) error {
		return backend.DumpRecord(f, human, r)
	})
	if err != nil {
		return err
	}
	for _, name := range []string{v1.FeedUnconfirmed, v1.FeedConfirmed} {
		entries, err := pg.Feed(name)
		if err != nil {
			return err
		}
		if err = backend.DumpFeed(f, human, name, entries); err != nil {
			return err
		}
	}
	return nil
}

// Close performs cleanup of the backend.
func (pg *Postgres) Close() {
	pg.db.Close()
	log.Infof("Exiting")
}

func buildQueryString(rootCert, cert, key string) string {
	v := url.Values{}
	v.Set("sslmode", "require")
	v.Set("sslrootcert", filepath.Clean(rootCert))
	v.Set("sslcert", filepath.Join(cert))
	v.Set("sslkey", filepath.Join(key))
	return v.Encode()
}

// internalNew creates the Postgres context on an open database and creates
// the tables.  This is used by the test packages.
func internalNew(db *sql.DB) (*Postgres, error) {
	for _, t := range tables {
		if _, err := db.Exec(t); err != nil {
			return nil, fmt.Errorf("create table: %v", err)
		}
	}
	return &Postgres{db: db}, nil
}

// New creates a new backend instance.  The caller should issue a Close once
// the Postgres backend is no longer needed.
func New(user, host, net, rootCert, cert, key string) (*Postgres, error) {
	log.Tracef("New: %v %v %v %v %v %v", user, host, net, rootCert, cert,
		key)

	// Connect to database
	dbName := net + "_dcrproof"
	h := "postgresql://" + user + "@" + host + "/" + dbName
	u, err := url.Parse(h)
	if err != nil {
		return nil, fmt.Errorf("parse url '%v': %v", h, err)
	}

	qs := buildQueryString(rootCert, cert, key)
	addr := u.String() + "?" + qs

	db, err := sql.Open("postgres", addr)
	if err != nil {
		return nil, fmt.Errorf("connect to database '%v': %v", addr, err)
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database '%v': %v", h, err)
	}

	pg, err := internalNew(db)
	if err != nil {
		db.Close()
		return nil, err
	}

	log.Infof("Database: %v", h)

	return pg, nil
}
