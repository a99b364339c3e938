// Copyright (c) 2020 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package postgres

// tables creates the schema.  Records are keyed by payment address and the
// digest is unique, which enforces the one address per digest mapping.
// Feeds keep an increasing id so that the most recent entries sort first.
var tables = []string{
	`CREATE TABLE IF NOT EXISTS records (
		address    TEXT PRIMARY KEY,
		digest     TEXT NOT NULL UNIQUE,
		pending    BOOLEAN NOT NULL,
		registered BIGINT NOT NULL,
		txstamp    BIGINT NOT NULL DEFAULT 0,
		blockstamp BIGINT NOT NULL DEFAULT 0,
		tx         TEXT NOT NULL DEFAULT '',
		payment_tx TEXT NOT NULL DEFAULT '',
		anchoring  BIGINT NOT NULL DEFAULT 0,
		anchor_tx  TEXT NOT NULL DEFAULT '',
		anchor_raw TEXT NOT NULL DEFAULT '')`,
	`CREATE TABLE IF NOT EXISTS feeds (
		id    BIGSERIAL PRIMARY KEY,
		name  TEXT NOT NULL,
		digest TEXT NOT NULL,
		stamp BIGINT NOT NULL,
		tx    TEXT NOT NULL DEFAULT '')`,
	`CREATE INDEX IF NOT EXISTS feeds_name_idx ON feeds (name, id)`,
	`CREATE TABLE IF NOT EXISTS settings (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL)`,
}
