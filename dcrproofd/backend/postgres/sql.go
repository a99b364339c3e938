// Copyright (c) 2020 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package postgres

import (
	"database/sql"

	v1 "github.com/decred/dcrproof/api/v1"
	"github.com/decred/dcrproof/dcrproofd/backend"
)

const recordColumns = `address, digest, pending, registered, txstamp,
	blockstamp, tx, payment_tx, anchoring, anchor_tx, anchor_raw`

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryRow(query string, args ...interface{}) *sql.Row
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(s scanner) (*backend.Record, error) {
	var r backend.Record
	err := s.Scan(&r.Address, &r.Digest, &r.Pending, &r.Timestamp,
		&r.Txstamp, &r.Blockstamp, &r.Tx, &r.PaymentTx, &r.Anchoring,
		&r.AnchorTx, &r.AnchorRaw)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// selectRecord returns the record for address.  forUpdate locks the row
// until the enclosing transaction ends.
func selectRecord(q querier, address string, forUpdate bool) (*backend.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM records WHERE address = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	r, err := scanRecord(q.QueryRow(query, address))
	if err == sql.ErrNoRows {
		return nil, backend.ErrNotFound
	}
	return r, err
}

// selectAddress returns the address mapped to digest.
func selectAddress(q querier, digest string) (string, error) {
	var address string
	err := q.QueryRow(`SELECT address FROM records WHERE digest = $1`,
		digest).Scan(&address)
	if err == sql.ErrNoRows {
		return "", backend.ErrNotFound
	}
	return address, err
}

// insertRecord inserts r unless its digest already exists.  It returns
// false if nothing was inserted.
func (pg *Postgres) insertRecord(r *backend.Record) (bool, error) {
	q := `INSERT INTO records (` + recordColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (digest) DO NOTHING`

	res, err := pg.db.Exec(q, r.Address, r.Digest, r.Pending, r.Timestamp,
		r.Txstamp, r.Blockstamp, r.Tx, r.PaymentTx, r.Anchoring,
		r.AnchorTx, r.AnchorRaw)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// updateRecord writes back all mutable fields of r.
func updateRecord(tx *sql.Tx, r *backend.Record) error {
	q := `UPDATE records SET pending = $1, txstamp = $2, blockstamp = $3,
		tx = $4, payment_tx = $5, anchoring = $6, anchor_tx = $7,
		anchor_raw = $8 WHERE address = $9`

	_, err := tx.Exec(q, r.Pending, r.Txstamp, r.Blockstamp, r.Tx,
		r.PaymentTx, r.Anchoring, r.AnchorTx, r.AnchorRaw, r.Address)
	return err
}

// selectRecords returns all records ordered by registration time.
func (pg *Postgres) selectRecords() ([]backend.Record, error) {
	rows, err := pg.db.Query(`SELECT ` + recordColumns +
		` FROM records ORDER BY registered`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []backend.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *r)
	}
	return records, rows.Err()
}

// insertFeedEntry appends an entry to the named feed and trims it to max
// entries.
func insertFeedEntry(tx *sql.Tx, name string, e v1.FeedEntry, max int) error {
	_, err := tx.Exec(`INSERT INTO feeds (name, digest, stamp, tx)
		VALUES ($1, $2, $3, $4)`, name, e.Digest, e.Timestamp,
		e.Transaction)
	if err != nil {
		return err
	}

	_, err = tx.Exec(`DELETE FROM feeds WHERE name = $1 AND id NOT IN
		(SELECT id FROM feeds WHERE name = $1 ORDER BY id DESC LIMIT $2)`,
		name, max)
	return err
}

// selectFeed returns the named feed, most recent first.
func (pg *Postgres) selectFeed(name string) ([]v1.FeedEntry, error) {
	rows, err := pg.db.Query(`SELECT digest, stamp, tx FROM feeds
		WHERE name = $1 ORDER BY id DESC`, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]v1.FeedEntry, 0, 16)
	for rows.Next() {
		var e v1.FeedEntry
		err = rows.Scan(&e.Digest, &e.Timestamp, &e.Transaction)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// insertSetting stores value under key unless key exists and returns the
// stored value.
func (pg *Postgres) insertSetting(key, value string) (string, error) {
	_, err := pg.db.Exec(`INSERT INTO settings (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO NOTHING`, key, value)
	if err != nil {
		return "", err
	}

	var stored string
	err = pg.db.QueryRow(`SELECT value FROM settings WHERE key = $1`,
		key).Scan(&stored)
	return stored, err
}
