// Copyright (c) 2019 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package docproof

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/decred/dcrd/wire"
	v1 "github.com/decred/dcrproof/api/v1"
	"github.com/decred/dcrproof/dcrproofd/backend"
	"github.com/decred/dcrproof/util"
)

// checkPayload rejects callbacks that do not carry a transaction.
func checkPayload(tx *v1.Tx) error {
	if tx == nil || tx.Hash == "" {
		return ErrMalformedPayload
	}
	return nil
}

// qualifies returns true if tx pays at least the price to address.
func (d *DocProof) qualifies(address string, tx *v1.Tx) bool {
	paid := tx.PaidTo(address)
	if paid < int64(d.cfg.Price) {
		log.Debugf("Payment %v to %v: %v below price %v", tx.Hash,
			address, paid, int64(d.cfg.Price))
		return false
	}
	return true
}

// OnUnconfirmedPayment handles the payment detected callback.  The first
// qualifying payment stamps the record and is added to the unconfirmed
// feed.  Unknown addresses and underpayments are ignored.
func (d *DocProof) OnUnconfirmedPayment(ctx context.Context, address, secret string, tx *v1.Tx) error {
	if err := d.Authenticate(secret); err != nil {
		return err
	}
	if err := checkPayload(tx); err != nil {
		return err
	}
	return d.paymentSeen(address, tx)
}

// paymentSeen sets txstamp on the first qualifying payment.
func (d *DocProof) paymentSeen(address string, tx *v1.Tx) error {
	if !d.qualifies(address, tx) {
		return nil
	}

	now := d.now()
	var stamped bool
	r, err := d.backend.Update(address, func(r *backend.Record) (bool, error) {
		if r.Paid() {
			return false, nil
		}
		r.Txstamp = now
		r.PaymentTx = tx.Hash
		stamped = true
		return true, nil
	})
	if errors.Is(err, backend.ErrNotFound) {
		log.Debugf("Payment %v to unknown address %v", tx.Hash, address)
		return nil
	} else if err != nil {
		return err
	}
	if !stamped {
		return nil
	}

	log.Infof("Payment seen %v tx %v", r.Digest, tx.Hash)
	d.pushFeed(v1.FeedUnconfirmed, v1.FeedEntry{
		Digest:      r.Digest,
		Timestamp:   r.Txstamp,
		Transaction: tx.Hash,
	})
	return nil
}

// OnConfirmedPayment handles the payment confirmed callback.  A qualifying
// confirmed payment triggers exactly one anchoring transaction for the
// record.
func (d *DocProof) OnConfirmedPayment(ctx context.Context, address, secret string, tx *v1.Tx) error {
	if err := d.Authenticate(secret); err != nil {
		return err
	}
	if err := checkPayload(tx); err != nil {
		return err
	}
	return d.anchor(address, tx)
}

// claim marks the record as being anchored at now.  It returns nil if the
// record is anchored already or another claim is live.
func (d *DocProof) claim(address string, now int64) (*backend.Record, error) {
	timeout := int64(d.cfg.ClaimTimeout.Seconds())
	var claimed bool
	r, err := d.backend.Update(address, func(r *backend.Record) (bool, error) {
		if r.Anchored() {
			return false, nil
		}
		if r.Anchoring != 0 && now-r.Anchoring < timeout {
			return false, nil
		}
		if r.Anchoring != 0 {
			log.Warnf("Abandoned anchor claim on %v from %v",
				r.Address, r.Anchoring)
		}
		r.Anchoring = now
		claimed = true
		return true, nil
	})
	if err != nil || !claimed {
		return nil, err
	}
	return r, nil
}

// release drops the claim taken at now unless it was taken over.
func (d *DocProof) release(address string, now int64) {
	_, err := d.backend.Update(address, func(r *backend.Record) (bool, error) {
		if r.Anchoring != now {
			return false, nil
		}
		r.Anchoring = 0
		return true, nil
	})
	if err != nil {
		log.Errorf("release %v: %v", address, err)
	}
}

// anchor broadcasts the anchoring transaction for address once.  No lock is
// held across wallet or explorer calls.  The stored claim serializes
// anchoring attempts instead.  The transaction is built and stored on the
// first attempt and every later attempt, including one that takes over an
// abandoned claim, sends the same bytes.  A record therefore never has more
// than one anchoring transaction.
//
// Gateway calls run on their own context, independent of the caller and
// bounded by half the claim timeout.
func (d *DocProof) anchor(address string, tx *v1.Tx) error {
	if !d.qualifies(address, tx) {
		return nil
	}
	if tx.Confirmations < d.cfg.MinConfirmations {
		log.Debugf("Payment %v to %v: %v confirmations", tx.Hash,
			address, tx.Confirmations)
		return nil
	}

	// Callbacks may arrive out of order.
	if err := d.paymentSeen(address, tx); err != nil {
		return err
	}

	now := d.now()
	r, err := d.claim(address, now)
	if errors.Is(err, backend.ErrNotFound) {
		return nil
	} else if err != nil {
		return err
	}
	if r == nil {
		log.Debugf("Anchor %v: broadcast or in flight", address)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(),
		d.cfg.ClaimTimeout/2)
	defer cancel()

	raw, txid, err := d.prepare(ctx, r, now)
	if err != nil {
		d.release(address, now)
		log.Errorf("Anchor %v: %v", r.Digest, err)
		return err
	}
	if raw == nil {
		// Claim lost to a takeover.
		return nil
	}

	if err = d.broadcast(ctx, raw, txid); err != nil {
		// The transaction stays stored and is sent again on retry.
		d.release(address, now)
		log.Errorf("Anchor %v tx %v: %v", r.Digest, txid, err)
		return err
	}

	var stored bool
	r, err = d.backend.Update(address, func(r *backend.Record) (bool, error) {
		if r.Anchored() {
			return false, nil
		}
		r.Tx = r.AnchorTx
		r.Anchoring = 0
		stored = true
		return true, nil
	})
	if err != nil {
		// The transaction is out and its hash is stored, the
		// reconciler picks it up once it confirms.
		log.Errorf("Anchor %v: store tx %v: %v", address, txid, err)
		return err
	}
	if !stored {
		log.Debugf("Anchor %v: tx %v already recorded", address, r.Tx)
		return nil
	}

	log.Infof("Anchored %v tx %v", r.Digest, r.Tx)

	err = d.subscribe(ctx, v1.EventConfirmedTx, v1.AnchoredRoute, address,
		r.Tx)
	if err != nil {
		log.Warnf("Anchor %v: subscribe: %v", address, err)
	}
	return nil
}

// prepare returns the stored anchoring transaction of r or builds, checks
// and stores a new one.  It returns a nil transaction if the claim taken at
// now was lost before anything was stored.
func (d *DocProof) prepare(ctx context.Context, r *backend.Record, now int64) ([]byte, string, error) {
	if r.Prepared() {
		raw, err := hex.DecodeString(r.AnchorRaw)
		if err != nil {
			return nil, "", fmt.Errorf("corrupt anchor tx %v: %v",
				r.AnchorTx, err)
		}
		return raw, r.AnchorTx, nil
	}

	b, err := hex.DecodeString(r.Digest)
	if err != nil || len(b) != sha256.Size {
		return nil, "", fmt.Errorf("corrupt digest %v", r.Digest)
	}
	var db [sha256.Size]byte
	copy(db[:], b)
	script, err := util.AnchorScript(db)
	if err != nil {
		return nil, "", err
	}

	raw, err := d.gateway.Construct(ctx, script)
	if err != nil {
		return nil, "", fmt.Errorf("%w: construct: %v",
			ErrGatewayUnavailable, err)
	}
	txid, err := checkAnchorTx(raw, script)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	// Nothing was sent yet, so a transaction stored by another attempt
	// wins and ours is dropped.
	var lost bool
	s, err := d.backend.Update(r.Address, func(r *backend.Record) (bool, error) {
		if r.Prepared() {
			return false, nil
		}
		if r.Anchoring != now {
			lost = true
			return false, nil
		}
		r.AnchorTx = txid
		r.AnchorRaw = hex.EncodeToString(raw)
		return true, nil
	})
	if err != nil {
		return nil, "", err
	}
	if lost {
		log.Debugf("Anchor %v: claim taken over", r.Address)
		return nil, "", nil
	}
	if s.AnchorTx != txid {
		log.Debugf("Anchor %v: using stored tx %v", r.Address,
			s.AnchorTx)
		raw, err = hex.DecodeString(s.AnchorRaw)
		if err != nil {
			return nil, "", fmt.Errorf("corrupt anchor tx %v: %v",
				s.AnchorTx, err)
		}
		txid = s.AnchorTx
	}
	return raw, txid, nil
}

// broadcast pushes the anchoring transaction txid.  A rejection that
// reports the same hash means the network already has it.
func (d *DocProof) broadcast(ctx context.Context, raw []byte, txid string) error {
	pushed, err := d.gateway.Push(ctx, raw)
	if err != nil {
		if pushed != "" && strings.EqualFold(pushed, txid) {
			log.Debugf("Push %v: already known: %v", txid, err)
			return nil
		}
		return fmt.Errorf("%w: %v", ErrBroadcastFailed, err)
	}
	if !strings.EqualFold(pushed, txid) {
		log.Warnf("Explorer reports tx %v for %v", pushed, txid)
	}
	return nil
}

// checkAnchorTx decodes a signed transaction and verifies that it carries
// script in a zero value output.  It returns the transaction hash.
func checkAnchorTx(raw, script []byte) (string, error) {
	var mtx wire.MsgTx
	if err := mtx.Deserialize(bytes.NewReader(raw)); err != nil {
		return "", fmt.Errorf("decode tx: %v", err)
	}
	for _, out := range mtx.TxOut {
		if out.Value == 0 && bytes.Equal(out.PkScript, script) {
			return mtx.TxHash().String(), nil
		}
	}
	return "", errors.New("tx lacks anchor output")
}

// OnAnchorConfirmed handles the anchoring transaction confirmed callback.
// It finalizes the record if tx is the stored anchoring transaction.
func (d *DocProof) OnAnchorConfirmed(ctx context.Context, address, secret string, tx *v1.Tx) error {
	if err := d.Authenticate(secret); err != nil {
		return err
	}
	if err := checkPayload(tx); err != nil {
		return err
	}
	return d.finalize(address, tx.Hash, tx.Confirmations)
}

// finalize sets blockstamp and clears pending once the stored anchoring
// transaction confirmed.
func (d *DocProof) finalize(address, txid string, confirmations int32) error {
	if confirmations < d.cfg.MinConfirmations {
		log.Debugf("Anchor %v: %v confirmations", txid, confirmations)
		return nil
	}

	now := d.now()
	var done bool
	r, err := d.backend.Update(address, func(r *backend.Record) (bool, error) {
		anchor := r.Tx
		if anchor == "" {
			// A transaction whose push outcome was lost is adopted
			// once it confirms.
			anchor = r.AnchorTx
		}
		if anchor == "" || r.Confirmed() ||
			!strings.EqualFold(anchor, txid) {
			return false, nil
		}
		r.Tx = anchor
		r.Anchoring = 0
		r.Blockstamp = now
		r.Pending = false
		done = true
		return true, nil
	})
	if errors.Is(err, backend.ErrNotFound) {
		return nil
	} else if err != nil {
		return err
	}
	if !done {
		return nil
	}

	log.Infof("Confirmed %v tx %v", r.Digest, r.Tx)
	d.pushFeed(v1.FeedConfirmed, v1.FeedEntry{
		Digest:      r.Digest,
		Timestamp:   r.Blockstamp,
		Transaction: r.Tx,
	})
	return nil
}
