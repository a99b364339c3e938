// Copyright (c) 2019 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package dcrproofwallet

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/decred/dcrd/chaincfg"
	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/dcrutil"
	pb "github.com/decred/dcrwallet/rpc/walletrpc"
	"google.golang.org/grpc"
)

// fakeWallet implements the calls used by Wallet.  Calling any other
// method panics on the nil embedded interface.
type fakeWallet struct {
	pb.WalletServiceClient

	address  string
	unsigned []byte
	signed   []byte
	script   []byte
	confs    map[chainhash.Hash]int32
}

func (f *fakeWallet) NextAddress(ctx context.Context, in *pb.NextAddressRequest, opts ...grpc.CallOption) (*pb.NextAddressResponse, error) {
	return &pb.NextAddressResponse{Address: f.address}, nil
}

func (f *fakeWallet) ConstructTransaction(ctx context.Context, in *pb.ConstructTransactionRequest, opts ...grpc.CallOption) (*pb.ConstructTransactionResponse, error) {
	if len(in.NonChangeOutputs) != 1 {
		return nil, errors.New("expected one output")
	}
	f.script = in.NonChangeOutputs[0].Destination.Script
	return &pb.ConstructTransactionResponse{
		UnsignedTransaction: f.unsigned,
	}, nil
}

func (f *fakeWallet) SignTransaction(ctx context.Context, in *pb.SignTransactionRequest, opts ...grpc.CallOption) (*pb.SignTransactionResponse, error) {
	if !bytes.Equal(in.SerializedTransaction, f.unsigned) {
		return nil, errors.New("unexpected transaction")
	}
	return &pb.SignTransactionResponse{Transaction: f.signed}, nil
}

func (f *fakeWallet) ConfirmationNotifications(ctx context.Context, opts ...grpc.CallOption) (pb.WalletService_ConfirmationNotificationsClient, error) {
	return &fakeStream{confs: f.confs}, nil
}

type fakeStream struct {
	grpc.ClientStream

	confs   map[chainhash.Hash]int32
	pending [][]byte
}

func (s *fakeStream) Send(r *pb.ConfirmationNotificationsRequest) error {
	s.pending = r.TxHashes
	return nil
}

func (s *fakeStream) Recv() (*pb.ConfirmationNotificationsResponse, error) {
	var r pb.ConfirmationNotificationsResponse
	for _, h := range s.pending {
		hash, err := chainhash.NewHash(h)
		if err != nil {
			return nil, err
		}
		r.Confirmations = append(r.Confirmations,
			&pb.ConfirmationNotificationsResponse_TransactionConfirmations{
				TxHash:        h,
				Confirmations: s.confs[*hash],
			})
	}
	return &r, nil
}

func newTestWallet(f *fakeWallet, params *chaincfg.Params) *Wallet {
	return &Wallet{
		minconf: 1,
		params:  params,
		wallet:  f,
	}
}

func TestNextAddress(t *testing.T) {
	addr, err := dcrutil.NewAddressScriptHashFromHash(make([]byte, 20),
		&chaincfg.MainNetParams)
	if err != nil {
		t.Fatal(err)
	}
	f := &fakeWallet{address: addr.EncodeAddress()}

	w := newTestWallet(f, &chaincfg.MainNetParams)
	got, err := w.NextAddress(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got != addr.EncodeAddress() {
		t.Fatalf("got %v want %v", got, addr.EncodeAddress())
	}

	// Wrong network.
	w = newTestWallet(f, &chaincfg.TestNet3Params)
	if _, err = w.NextAddress(context.Background()); err == nil {
		t.Fatal("expected network mismatch")
	}

	// Garbage.
	f.address = "not an address"
	w = newTestWallet(f, &chaincfg.MainNetParams)
	if _, err = w.NextAddress(context.Background()); err == nil {
		t.Fatal("expected invalid address")
	}
}

func TestConstruct(t *testing.T) {
	f := &fakeWallet{
		unsigned: []byte{0x01},
		signed:   []byte{0x02},
	}
	w := newTestWallet(f, &chaincfg.SimNetParams)

	script := []byte{0x6a, 0x01, 0xff}
	signed, err := w.Construct(context.Background(), script)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(signed, f.signed) {
		t.Fatalf("got %x want %x", signed, f.signed)
	}
	if !bytes.Equal(f.script, script) {
		t.Fatalf("wallet got script %x want %x", f.script, script)
	}

	f.signed = nil
	if _, err = w.Construct(context.Background(), script); err == nil {
		t.Fatal("expected empty transaction error")
	}
}

func TestConfirmations(t *testing.T) {
	txid := "8226119494e53ef6c4c709ae9f547b6503a0775068a995ea4abb464de1137a10"
	hash, err := chainhash.NewHashFromStr(txid)
	if err != nil {
		t.Fatal(err)
	}
	f := &fakeWallet{
		confs: map[chainhash.Hash]int32{*hash: 3},
	}
	w := newTestWallet(f, &chaincfg.SimNetParams)

	n, err := w.Confirmations(context.Background(), txid)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("got %v confirmations want 3", n)
	}

	if _, err = w.Confirmations(context.Background(), "zz"); err == nil {
		t.Fatal("expected invalid txid")
	}
}
