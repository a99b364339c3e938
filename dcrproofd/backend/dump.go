// Copyright (c) 2017-2019 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package backend

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	v1 "github.com/decred/dcrproof/api/v1"
)

const fStr = "20060102.150405"

// ts2str converts a UNIX timestamp to a human readable timestamp.
func ts2str(ts int64) string {
	if ts == 0 {
		return "-"
	}
	return time.Unix(ts, 0).UTC().Format(fStr)
}

// DumpRecord writes r to w.  If human is set it is pretty printed,
// otherwise it is encoded as a RecordType followed by the JSON record.
func DumpRecord(w io.Writer, human bool, r Record) error {
	if human {
		fmt.Fprintf(w, "Digest     : %v\n", r.Digest)
		fmt.Fprintf(w, "Address    : %v\n", r.Address)
		fmt.Fprintf(w, "Pending    : %v\n", r.Pending)
		fmt.Fprintf(w, "Timestamp  : %v -> %v\n", r.Timestamp,
			ts2str(r.Timestamp))
		fmt.Fprintf(w, "Txstamp    : %v -> %v\n", r.Txstamp,
			ts2str(r.Txstamp))
		fmt.Fprintf(w, "Blockstamp : %v -> %v\n", r.Blockstamp,
			ts2str(r.Blockstamp))
		fmt.Fprintf(w, "Payment tx : %v\n", r.PaymentTx)
		fmt.Fprintf(w, "Anchor tx  : %v\n", r.Tx)
		if r.Prepared() && r.Tx == "" {
			fmt.Fprintf(w, "Stored tx  : %v\n", r.AnchorTx)
		}
		fmt.Fprintf(w, "\n")
		return nil
	}

	e := json.NewEncoder(w)
	rt := RecordType{
		Version: RecordTypeVersion,
		Type:    RecordTypeRecord,
	}
	if err := e.Encode(rt); err != nil {
		return err
	}
	return e.Encode(r)
}

// DumpFeed writes the named feed to w, see DumpRecord.
func DumpFeed(w io.Writer, human bool, name string, entries []v1.FeedEntry) error {
	if human {
		fmt.Fprintf(w, "--- Feed %v (%v)\n", name, len(entries))
		for _, v := range entries {
			fmt.Fprintf(w, "  %v %v %v\n", v.Digest,
				ts2str(v.Timestamp), v.Transaction)
		}
		return nil
	}

	e := json.NewEncoder(w)
	rt := RecordType{
		Version: RecordTypeVersion,
		Type:    RecordTypeFeed,
	}
	if err := e.Encode(rt); err != nil {
		return err
	}
	return e.Encode(Feed{Name: name, Entries: entries})
}
