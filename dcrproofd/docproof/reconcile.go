// Copyright (c) 2019 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package docproof

import (
	"context"

	"github.com/decred/dcrproof/dcrproofd/backend"
)

// Reconcile replays missed callbacks for all pending records.  Records
// without an anchoring transaction are checked against their address
// history.  Anchored records are checked for confirmations.  Records whose
// stored anchoring transaction was never acknowledged are checked for
// confirmations and otherwise pushed again.  It applies the same guarded
// transitions as the callbacks.
func (d *DocProof) Reconcile(ctx context.Context) error {
	var pending []backend.Record
	err := d.backend.ForEach(func(r backend.Record) error {
		if r.Pending {
			pending = append(pending, r)
		}
		return nil
	})
	if err != nil {
		return err
	}

	log.Debugf("Reconcile: %v pending records", len(pending))

	for _, r := range pending {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		var err error
		switch {
		case r.Anchored():
			err = d.reconcileAnchor(ctx, r)
		case r.Prepared():
			err = d.reconcilePrepared(ctx, r)
		default:
			err = d.reconcilePayment(ctx, r)
		}
		if err != nil {
			log.Errorf("Reconcile %v: %v", r.Address, err)
		}
	}

	return nil
}

// reconcilePayment replays the payment transitions from address history.
func (d *DocProof) reconcilePayment(ctx context.Context, r backend.Record) error {
	txs, err := d.gateway.AddressTransactions(ctx, r.Address)
	if err != nil {
		return err
	}
	for i := range txs {
		tx := &txs[i]
		if !d.qualifies(r.Address, tx) {
			continue
		}
		if tx.Confirmations < d.cfg.MinConfirmations {
			if err := d.paymentSeen(r.Address, tx); err != nil {
				return err
			}
			continue
		}
		// One confirmed qualifying payment is enough.
		return d.anchor(r.Address, tx)
	}
	return nil
}

// reconcileAnchor finalizes an anchored record whose confirmation callback
// was missed.
func (d *DocProof) reconcileAnchor(ctx context.Context, r backend.Record) error {
	n, err := d.gateway.Confirmations(ctx, r.Tx)
	if err != nil {
		return err
	}
	return d.finalize(r.Address, r.Tx, n)
}

// reconcilePrepared finalizes a record whose anchoring transaction made it
// on chain although its broadcast was not acknowledged.  Otherwise the
// stored transaction is pushed again through the payment replay.
func (d *DocProof) reconcilePrepared(ctx context.Context, r backend.Record) error {
	n, err := d.gateway.Confirmations(ctx, r.AnchorTx)
	if err != nil {
		log.Debugf("Reconcile %v: confirmations %v: %v", r.Address,
			r.AnchorTx, err)
	} else if n > 0 {
		return d.finalize(r.Address, r.AnchorTx, n)
	}
	return d.reconcilePayment(ctx, r)
}
