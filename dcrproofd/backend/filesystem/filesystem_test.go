// Copyright (c) 2017 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package filesystem

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"reflect"
	"sync"
	"testing"

	"github.com/davecgh/go-spew/spew"
	v1 "github.com/decred/dcrproof/api/v1"
	"github.com/decred/dcrproof/dcrproofd/backend"
)

func newTestFS(t *testing.T) (*FileSystem, func()) {
	t.Helper()

	dir, err := ioutil.TempDir("", "dcrproofd.test")
	if err != nil {
		t.Fatal(err)
	}
	fs, err := New(dir)
	if err != nil {
		os.RemoveAll(dir)
		t.Fatal(err)
	}
	return fs, func() {
		fs.Close()
		os.RemoveAll(dir)
	}
}

func testRecord(i int) *backend.Record {
	return &backend.Record{
		Digest:    fmt.Sprintf("%064x", i),
		Address:   fmt.Sprintf("TsAddress%v", i),
		Pending:   true,
		Timestamp: 1546300800 + int64(i),
	}
}

func TestEncodeDecode(t *testing.T) {
	r := backend.Record{
		Digest:     "8d1321a1d31f5603be10bab6a11b58009c03658e1a29248656db7a7e4f86d814",
		Address:    "TsfDLrRkk9ciUuwfp2b8PawwnukYD7yAjGd",
		Pending:    false,
		Timestamp:  1546300800,
		Txstamp:    1546300900,
		Blockstamp: 1546301000,
		Tx:         "8226119494e53ef6c4c709ae9f547b6503a0775068a995ea4abb464de1137a10",
		PaymentTx:  "b0b3e798e388f85158a9eb6c5053b81e76aa77e7a780d21cebb8e127517227dc",
	}

	blob, err := EncodeRecord(r)
	if err != nil {
		t.Fatal(err)
	}

	r2, err := DecodeRecord(blob)
	if err != nil {
		t.Fatal(err)
	}

	if !reflect.DeepEqual(r, *r2) {
		t.Fatalf("want %v got %v", spew.Sdump(r), spew.Sdump(*r2))
	}
}

func TestInsertGet(t *testing.T) {
	fs, cleanup := newTestFS(t)
	defer cleanup()

	r := testRecord(0xab)
	if err := fs.Insert(r); err != nil {
		t.Fatal(err)
	}

	address, err := fs.Address(r.Digest)
	if err != nil {
		t.Fatal(err)
	}
	if address != r.Address {
		t.Fatalf("invalid address got %v want %v", address, r.Address)
	}

	// Digest lookups are case insensitive.
	upper := fmt.Sprintf("%064X", 0xab)
	if _, err = fs.Address(upper); err != nil {
		t.Fatalf("upper case lookup: %v", err)
	}

	r2, err := fs.Get(address)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(r, r2) {
		t.Fatalf("want %v got %v", spew.Sdump(r), spew.Sdump(r2))
	}

	// Registering the same digest again returns the existing address.
	dup := testRecord(0xab)
	dup.Address = "TsOtherAddress"
	err = fs.Insert(dup)
	var e backend.ExistsError
	if !errors.As(err, &e) {
		t.Fatalf("expected ExistsError got %v", err)
	}
	if !errors.Is(err, backend.ErrExists) {
		t.Fatalf("expected ErrExists got %v", err)
	}
	if e.Address != r.Address {
		t.Fatalf("invalid existing address got %v want %v",
			e.Address, r.Address)
	}
	if _, err = fs.Get(dup.Address); !errors.Is(err, backend.ErrNotFound) {
		t.Fatalf("duplicate must not be stored: %v", err)
	}

	// Addresses are never reused.
	reuse := testRecord(2)
	reuse.Address = r.Address
	if err = fs.Insert(reuse); err == nil {
		t.Fatal("expected address reuse to fail")
	}
	if _, err = fs.Address(reuse.Digest); !errors.Is(err, backend.ErrNotFound) {
		t.Fatalf("reused address must not be mapped: %v", err)
	}

	// Not found.
	if _, err = fs.Address(fmt.Sprintf("%064x", 99)); !errors.Is(err, backend.ErrNotFound) {
		t.Fatalf("expected ErrNotFound got %v", err)
	}
	if _, err = fs.Get("TsMissing"); !errors.Is(err, backend.ErrNotFound) {
		t.Fatalf("expected ErrNotFound got %v", err)
	}
}

func TestUpdate(t *testing.T) {
	fs, cleanup := newTestFS(t)
	defer cleanup()

	r := testRecord(1)
	if err := fs.Insert(r); err != nil {
		t.Fatal(err)
	}

	// Changed record is written back.
	r2, err := fs.Update(r.Address, func(r *backend.Record) (bool, error) {
		r.Txstamp = 42
		return true, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if r2.Txstamp != 42 {
		t.Fatalf("invalid txstamp got %v", r2.Txstamp)
	}

	// Unchanged record is not written back.
	_, err = fs.Update(r.Address, func(r *backend.Record) (bool, error) {
		r.Txstamp = 43
		return false, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	r3, err := fs.Get(r.Address)
	if err != nil {
		t.Fatal(err)
	}
	if r3.Txstamp != 42 {
		t.Fatalf("unchanged update was written: %v", r3.Txstamp)
	}

	// Errors abort the update.
	errAbort := errors.New("abort")
	_, err = fs.Update(r.Address, func(r *backend.Record) (bool, error) {
		r.Txstamp = 44
		return true, errAbort
	})
	if err != errAbort {
		t.Fatalf("expected abort got %v", err)
	}
	r3, err = fs.Get(r.Address)
	if err != nil {
		t.Fatal(err)
	}
	if r3.Txstamp != 42 {
		t.Fatalf("aborted update was written: %v", r3.Txstamp)
	}

	_, err = fs.Update("TsMissing", func(r *backend.Record) (bool, error) {
		t.Fatal("update called for missing record")
		return false, nil
	})
	if !errors.Is(err, backend.ErrNotFound) {
		t.Fatalf("expected ErrNotFound got %v", err)
	}
}

func TestReservedKeys(t *testing.T) {
	fs, cleanup := newTestFS(t)
	defer cleanup()

	r := testRecord(1)
	if err := fs.Insert(r); err != nil {
		t.Fatal(err)
	}
	err := fs.PushFeed(v1.FeedConfirmed, v1.FeedEntry{Digest: r.Digest},
		5)
	if err != nil {
		t.Fatal(err)
	}
	if _, err = fs.Secret("sekrit"); err != nil {
		t.Fatal(err)
	}

	for _, key := range []string{v1.FeedConfirmed, v1.FeedUnconfirmed,
		secretKey, string(mapKey(r.Digest))} {
		if _, err := fs.Get(key); !errors.Is(err, backend.ErrNotFound) {
			t.Fatalf("get %v: expected ErrNotFound got %v", key, err)
		}
		_, err := fs.Update(key, func(r *backend.Record) (bool, error) {
			t.Fatalf("update called for %v", key)
			return false, nil
		})
		if !errors.Is(err, backend.ErrNotFound) {
			t.Fatalf("update %v: expected ErrNotFound got %v", key,
				err)
		}

		bad := testRecord(2)
		bad.Address = key
		if err := fs.Insert(bad); err == nil {
			t.Fatalf("insert %v: expected error", key)
		}
	}

	// Singletons are left alone.
	if s, err := fs.Secret("other"); err != nil || s != "sekrit" {
		t.Fatalf("secret changed: %v %v", s, err)
	}
}

func TestUpdateConcurrent(t *testing.T) {
	fs, cleanup := newTestFS(t)
	defer cleanup()

	r := testRecord(1)
	if err := fs.Insert(r); err != nil {
		t.Fatal(err)
	}

	var (
		wg      sync.WaitGroup
		mtx     sync.Mutex
		applied int
	)
	for i := 1; i <= 32; i++ {
		wg.Add(1)
		go func(stamp int64) {
			defer wg.Done()
			_, err := fs.Update(r.Address, func(r *backend.Record) (bool, error) {
				if r.Txstamp != 0 {
					return false, nil
				}
				r.Txstamp = stamp
				mtx.Lock()
				applied++
				mtx.Unlock()
				return true, nil
			})
			if err != nil {
				t.Error(err)
			}
		}(int64(i))
	}
	wg.Wait()

	if applied != 1 {
		t.Fatalf("txstamp set %v times", applied)
	}
	r2, err := fs.Get(r.Address)
	if err != nil {
		t.Fatal(err)
	}
	if r2.Txstamp == 0 {
		t.Fatal("txstamp not set")
	}
}

func TestFeed(t *testing.T) {
	fs, cleanup := newTestFS(t)
	defer cleanup()

	entries, err := fs.Feed(v1.FeedConfirmed)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty feed got %v", len(entries))
	}

	for i := 0; i < 5; i++ {
		err := fs.PushFeed(v1.FeedConfirmed, v1.FeedEntry{
			Digest:    fmt.Sprintf("%064x", i),
			Timestamp: int64(i),
		}, 3)
		if err != nil {
			t.Fatal(err)
		}
	}

	entries, err = fs.Feed(v1.FeedConfirmed)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries got %v", len(entries))
	}
	// Most recent first, oldest evicted.
	for i, e := range entries {
		want := int64(4 - i)
		if e.Timestamp != want {
			t.Fatalf("entry %v: got %v want %v", i, e.Timestamp, want)
		}
	}

	// Feeds are independent.
	entries, err = fs.Feed(v1.FeedUnconfirmed)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty unconfirmed feed got %v", len(entries))
	}
}

func TestSecret(t *testing.T) {
	fs, cleanup := newTestFS(t)
	defer cleanup()

	if _, err := fs.Secret(""); err == nil {
		t.Fatal("expected empty secret to fail")
	}
	s, err := fs.Secret("first")
	if err != nil {
		t.Fatal(err)
	}
	if s != "first" {
		t.Fatalf("got %v want first", s)
	}
	s, err = fs.Secret("second")
	if err != nil {
		t.Fatal(err)
	}
	if s != "first" {
		t.Fatalf("secret was replaced: %v", s)
	}
}

func TestForEachDump(t *testing.T) {
	fs, cleanup := newTestFS(t)
	defer cleanup()

	count := 10
	for i := 0; i < count; i++ {
		if err := fs.Insert(testRecord(i)); err != nil {
			t.Fatal(err)
		}
	}
	err := fs.PushFeed(v1.FeedUnconfirmed, v1.FeedEntry{Digest: "x"}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if _, err = fs.Secret("secret"); err != nil {
		t.Fatal(err)
	}

	seen := make(map[string]bool)
	err = fs.ForEach(func(r backend.Record) error {
		seen[r.Address] = true
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(seen) != count {
		t.Fatalf("expected %v records got %v", count, len(seen))
	}

	f, err := ioutil.TempFile("", "dcrproofd.dump")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(f.Name())
	defer f.Close()

	if err = fs.Dump(f, false); err != nil {
		t.Fatal(err)
	}
	if _, err = f.Seek(0, io.SeekStart); err != nil {
		t.Fatal(err)
	}

	var records, feeds int
	d := json.NewDecoder(f)
	for {
		var rt backend.RecordType
		err := d.Decode(&rt)
		if err == io.EOF {
			break
		} else if err != nil {
			t.Fatal(err)
		}
		switch rt.Type {
		case backend.RecordTypeRecord:
			var r backend.Record
			if err := d.Decode(&r); err != nil {
				t.Fatal(err)
			}
			records++
		case backend.RecordTypeFeed:
			var feed backend.Feed
			if err := d.Decode(&feed); err != nil {
				t.Fatal(err)
			}
			feeds++
		default:
			t.Fatalf("invalid record type %v", rt.Type)
		}
	}
	if records != count || feeds != 2 {
		t.Fatalf("dumped %v records %v feeds", records, feeds)
	}
}
