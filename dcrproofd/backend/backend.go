// Copyright (c) 2017-2019 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package backend

import (
	"errors"
	"fmt"
	"os"

	v1 "github.com/decred/dcrproof/api/v1"
)

var (
	// ErrNotFound is returned when a digest or address has no record.
	ErrNotFound = errors.New("record not found")

	// ErrExists is the sentinel matched by ExistsError.
	ErrExists = errors.New("digest exists")
)

// ExistsError is returned by Insert when the digest is already mapped to
// an address.  Address is the existing mapping.
type ExistsError struct {
	Address string
}

func (e ExistsError) Error() string {
	return fmt.Sprintf("%v: %v", ErrExists, e.Address)
}

// Is makes errors.Is(err, ErrExists) succeed.
func (e ExistsError) Is(target error) bool {
	return target == ErrExists
}

// Record tracks a single digest from registration to anchor confirmation.
// All times are UNIX seconds and zero when unset.
type Record struct {
	Digest     string `json:"digest"`     // Document digest, immutable
	Address    string `json:"address"`    // Payment address, immutable
	Pending    bool   `json:"pending"`    // True until anchor confirmed
	Timestamp  int64  `json:"timestamp"`  // Registration time
	Txstamp    int64  `json:"txstamp"`    // First qualifying payment seen
	Blockstamp int64  `json:"blockstamp"` // Anchor confirmed
	Tx         string `json:"tx"`         // Anchoring transaction, accepted
	PaymentTx  string `json:"paymenttx"`  // First qualifying payment tx
	Anchoring  int64  `json:"anchoring"`  // In flight anchor claim
	AnchorTx   string `json:"anchortx"`   // Signed anchoring tx hash, fixed once set
	AnchorRaw  string `json:"anchorraw"`  // Signed anchoring tx, hex
}

// Paid returns true once a qualifying payment was seen.
func (r *Record) Paid() bool {
	return r.Txstamp != 0
}

// Anchored returns true once the anchoring transaction was accepted.
func (r *Record) Anchored() bool {
	return r.Tx != ""
}

// Prepared returns true once the anchoring transaction was built and
// signed.  Every broadcast attempt after that sends the same transaction.
func (r *Record) Prepared() bool {
	return r.AnchorRaw != ""
}

// Confirmed returns true once the anchoring transaction confirmed.
func (r *Record) Confirmed() bool {
	return r.Blockstamp != 0
}

// UpdateFunc mutates a record in place.  It returns true if the record
// changed and must be written back.  An error aborts the update.
type UpdateFunc func(r *Record) (bool, error)

// Record types used in dump streams.
const (
	RecordTypeRecord = "record"
	RecordTypeFeed   = "feed"

	RecordTypeVersion = 1
)

// RecordType indicates what the next record is in a dump stream.
type RecordType struct {
	Version uint   `json:"version"` // Version of RecordType
	Type    string `json:"type"`    // Type or record
}

// Feed is a named feed as it appears in a dump stream.
type Feed struct {
	Name    string         `json:"name"`
	Entries []v1.FeedEntry `json:"entries"`
}

type Backend interface {
	// Return the payment address mapped to digest or ErrNotFound.
	Address(digest string) (string, error)

	// Return the record for address or ErrNotFound.
	Get(address string) (*Record, error)

	// Atomically store the digest mapping and record.  If the digest is
	// already mapped an ExistsError is returned and nothing is written.
	Insert(*Record) error

	// Atomically read, modify and write the record for address.  The
	// returned record is the stored state after the update.  Returns
	// ErrNotFound if there is no record.
	Update(address string, fn UpdateFunc) (*Record, error)

	// Call fn for every record.  fn must not call back into the backend.
	ForEach(fn func(Record) error) error

	// Prepend entry to the named feed and keep at most max entries.
	PushFeed(name string, entry v1.FeedEntry, max int) error

	// Return the named feed, most recent first.
	Feed(name string) ([]v1.FeedEntry, error)

	// Return the stored webhook secret.  If none is stored candidate is
	// stored and returned.
	Secret(candidate string) (string, error)

	// Dump dumps database to the provided file descriptor. If the
	// human flag is set to true it pretty prints the database content
	// otherwise it dumps a JSON stream.
	Dump(*os.File, bool) error

	// Close performs cleanup of the backend.
	Close()
}
