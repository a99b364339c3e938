// Copyright (c) 2019 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"

	v1 "github.com/decred/dcrproof/api/v1"
	"github.com/decred/dcrproof/dcrproofd/dcrproofwallet"
	"github.com/decred/dcrproof/dcrproofd/docproof"
	"github.com/decred/dcrproof/dcrproofd/explorer"
)

var _ docproof.Gateway = (*chainGateway)(nil)

// chainGateway splits the gateway between the service wallet, which owns
// the addresses and the anchoring funds, and the explorer, which watches
// addresses and relays transactions.
type chainGateway struct {
	wallet   *dcrproofwallet.Wallet
	explorer *explorer.Explorer
}

func (g *chainGateway) NewAddress(ctx context.Context) (string, error) {
	return g.wallet.NextAddress(ctx)
}

func (g *chainGateway) Subscribe(ctx context.Context, h v1.Hook) error {
	_, err := g.explorer.Subscribe(ctx, h)
	return err
}

func (g *chainGateway) Construct(ctx context.Context, script []byte) ([]byte, error) {
	return g.wallet.Construct(ctx, script)
}

func (g *chainGateway) Push(ctx context.Context, raw []byte) (string, error) {
	return g.explorer.Push(ctx, raw)
}

func (g *chainGateway) AddressTransactions(ctx context.Context, address string) ([]v1.Tx, error) {
	a, err := g.explorer.AddressFull(ctx, address)
	if err != nil {
		return nil, err
	}
	return a.TXs, nil
}

func (g *chainGateway) Confirmations(ctx context.Context, txid string) (int32, error) {
	return g.wallet.Confirmations(ctx, txid)
}
