// Copyright (c) 2017 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package filesystem

import (
	"os"

	v1 "github.com/decred/dcrproof/api/v1"
	"github.com/decred/dcrproof/dcrproofd/backend"
)

// Dump walks all records and feeds and writes them to f.
//
// Dump satisfies the backend interface.
func (fs *FileSystem) Dump(f *os.File, human bool) error {
	err := fs.ForEach(func(r backend.Record) error {
		return backend.DumpRecord(f, human, r)
	})
	if err != nil {
		return err
	}

	for _, name := range []string{v1.FeedUnconfirmed, v1.FeedConfirmed} {
		entries, err := fs.Feed(name)
		if err != nil {
			return err
		}
		err = backend.DumpFeed(f, human, name, entries)
		if err != nil {
			return err
		}
	}

	return nil
}
