// Copyright (c) 2019 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package docproof implements the registration and anchoring state machine.
// A registered digest is assigned a payment address.  Explorer callbacks
// move the record through payment seen, anchor broadcast and anchor
// confirmed.  Every transition is a guarded update of a single record so
// that duplicated and reordered callbacks are harmless.
package docproof

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/decred/dcrd/chaincfg"
	"github.com/decred/dcrd/dcrutil"
	v1 "github.com/decred/dcrproof/api/v1"
	"github.com/decred/dcrproof/dcrproofd/backend"
	"github.com/robfig/cron"
)

var (
	// ErrInvalidDigest is returned for digests that are not 64 hex
	// characters.
	ErrInvalidDigest = errors.New("invalid digest")

	// ErrNotFound is returned when a digest was never registered.
	ErrNotFound = errors.New("digest not found")

	// ErrUnauthorized is returned when a callback carries the wrong
	// secret.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrMalformedPayload is returned when a callback payload lacks a
	// transaction.
	ErrMalformedPayload = errors.New("malformed payload")

	// ErrGatewayUnavailable is returned when the wallet or explorer could
	// not be reached or misbehaved.
	ErrGatewayUnavailable = errors.New("gateway unavailable")

	// ErrBroadcastFailed is returned when the anchoring transaction was
	// not accepted by the network.
	ErrBroadcastFailed = errors.New("broadcast failed")
)

// DefaultClaimTimeout is used when Config.ClaimTimeout is not set.
const DefaultClaimTimeout = 10 * time.Minute

// Gateway is the blockchain collaborator.
type Gateway interface {
	// NewAddress returns a never before used payment address.
	NewAddress(ctx context.Context) (string, error)

	// Subscribe registers a webhook.
	Subscribe(ctx context.Context, h v1.Hook) error

	// Construct returns a signed transaction that pays nothing to
	// script.
	Construct(ctx context.Context, script []byte) ([]byte, error)

	// Push broadcasts a signed transaction and returns its hash.  When
	// the network already has the transaction the hash is returned along
	// with the error.
	Push(ctx context.Context, raw []byte) (string, error)

	// AddressTransactions returns the transaction history of address.
	AddressTransactions(ctx context.Context, address string) ([]v1.Tx, error)

	// Confirmations returns the confirmation count of a transaction.
	Confirmations(ctx context.Context, txid string) (int32, error)
}

// Config holds the service policy.
type Config struct {
	Price            dcrutil.Amount   // Price per digest
	Params           *chaincfg.Params // Active network
	Secret           string           // Webhook capability token
	CallbackURL      string           // Public URL the explorer calls back
	MinConfirmations int32            // Confirmations required to anchor and finalize
	FeedSize         int              // Capacity of each feed
	ClaimTimeout     time.Duration    // Age after which an anchor claim is abandoned
}

// DocProof is the anchoring service.
type DocProof struct {
	cfg     Config
	backend backend.Backend
	gateway Gateway

	cron        *cron.Cron       // Reconciler schedule
	reconciling int32            // Set while a reconcile pass runs
	myNow       func() time.Time // Override time.Now()
}

// New returns a DocProof that keeps its records in b and reaches the chain
// through g.
func New(cfg Config, b backend.Backend, g Gateway) (*DocProof, error) {
	switch {
	case cfg.Params == nil:
		return nil, errors.New("network not set")
	case cfg.Secret == "":
		return nil, errors.New("webhook secret not set")
	case cfg.Price <= 0:
		return nil, fmt.Errorf("invalid price: %v", cfg.Price)
	case cfg.FeedSize <= 0:
		return nil, fmt.Errorf("invalid feed size: %v", cfg.FeedSize)
	}
	if cfg.MinConfirmations < 1 {
		cfg.MinConfirmations = 1
	}
	if cfg.ClaimTimeout <= 0 {
		cfg.ClaimTimeout = DefaultClaimTimeout
	}
	return &DocProof{
		cfg:     cfg,
		backend: b,
		gateway: g,
		cron:    cron.New(),
		myNow:   time.Now,
	}, nil
}

// ValidDigest returns true if digest is the hex encoding of a SHA256
// digest.
func ValidDigest(digest string) bool {
	return v1.RegexpSHA256.MatchString(digest)
}

// Authenticate compares the callback secret in constant time.  It runs
// before any record is touched.
func (d *DocProof) Authenticate(secret string) error {
	if subtle.ConstantTimeCompare([]byte(secret), []byte(d.cfg.Secret)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

func (d *DocProof) now() int64 {
	return d.myNow().Unix()
}

func (d *DocProof) registerReply(digest, address string) *v1.RegisterReply {
	return &v1.RegisterReply{
		Success:    true,
		Digest:     digest,
		Price:      int64(d.cfg.Price),
		PayAddress: address,
	}
}

// subscribe registers the webhook for event on the callback route.
func (d *DocProof) subscribe(ctx context.Context, event, route, address, hash string) error {
	h := v1.Hook{
		Event:   event,
		Address: address,
		Hash:    hash,
		URL: v1.WebhookURL(d.cfg.CallbackURL, route, d.cfg.Secret,
			address),
	}
	if event == v1.EventConfirmedTx {
		h.Confirmations = d.cfg.MinConfirmations
	}
	if hash != "" {
		h.Address = ""
	}
	return d.gateway.Subscribe(ctx, h)
}

// Register assigns a payment address to digest.  Registering a digest
// again returns the original address.
func (d *DocProof) Register(ctx context.Context, digest string) (*v1.RegisterReply, error) {
	if !ValidDigest(digest) {
		return nil, ErrInvalidDigest
	}
	digest = strings.ToLower(digest)

	address, err := d.backend.Address(digest)
	switch {
	case err == nil:
		return d.registerReply(digest, address), nil
	case !errors.Is(err, backend.ErrNotFound):
		return nil, err
	}

	address, err = d.gateway.NewAddress(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: new address: %v",
			ErrGatewayUnavailable, err)
	}

	// Nothing is stored until both subscriptions exist.  A failed
	// registration leaves at most unused hooks on a fresh address.
	err = d.subscribe(ctx, v1.EventUnconfirmedTx, v1.UnconfirmedRoute,
		address, "")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	err = d.subscribe(ctx, v1.EventConfirmedTx, v1.ConfirmedRoute,
		address, "")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	err = d.backend.Insert(&backend.Record{
		Digest:    digest,
		Address:   address,
		Pending:   true,
		Timestamp: d.now(),
	})
	var exists backend.ExistsError
	switch {
	case errors.As(err, &exists):
		// Lost a race against a concurrent registration.
		log.Debugf("Register: %v raced, using %v", digest,
			exists.Address)
		return d.registerReply(digest, exists.Address), nil
	case err != nil:
		return nil, err
	}

	log.Infof("Registered %v address %v", digest, address)

	return d.registerReply(digest, address), nil
}

func stamp(t int64) *int64 {
	if t == 0 {
		return nil
	}
	return &t
}

// Status returns the client view of a registered digest.
func (d *DocProof) Status(digest string) (*v1.StatusReply, error) {
	if !ValidDigest(digest) {
		return nil, ErrInvalidDigest
	}
	digest = strings.ToLower(digest)

	address, err := d.backend.Address(digest)
	if errors.Is(err, backend.ErrNotFound) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, err
	}
	r, err := d.backend.Get(address)
	if errors.Is(err, backend.ErrNotFound) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, err
	}

	return &v1.StatusReply{
		Success:        true,
		Digest:         r.Digest,
		Pending:        r.Pending,
		PaymentAddress: r.Address,
		Price:          int64(d.cfg.Price),
		Network:        d.cfg.Params.Name,
		Timestamp:      stamp(r.Timestamp),
		Txstamp:        stamp(r.Txstamp),
		Blockstamp:     stamp(r.Blockstamp),
		Transaction:    r.Tx,
	}, nil
}

// Latest returns the named feed, most recent first.
func (d *DocProof) Latest(feed string) ([]v1.FeedEntry, error) {
	switch feed {
	case v1.FeedUnconfirmed, v1.FeedConfirmed:
	default:
		return nil, ErrNotFound
	}
	return d.backend.Feed(feed)
}

// pushFeed records activity.  Feeds are informational and a failure is
// only logged.
func (d *DocProof) pushFeed(feed string, e v1.FeedEntry) {
	err := d.backend.PushFeed(feed, e, d.cfg.FeedSize)
	if err != nil {
		log.Errorf("pushFeed %v %v: %v", feed, e.Digest, err)
	}
}

// Start runs Reconcile on schedule, a cron spec with a seconds field.
func (d *DocProof) Start(schedule string, timeout time.Duration) error {
	err := d.cron.AddFunc(schedule, func() {
		if !atomic.CompareAndSwapInt32(&d.reconciling, 0, 1) {
			log.Debugf("Reconcile: previous pass still running")
			return
		}
		defer atomic.StoreInt32(&d.reconciling, 0)

		ctx, cancel := context.WithTimeout(context.Background(),
			timeout)
		defer cancel()
		if err := d.Reconcile(ctx); err != nil {
			log.Errorf("Reconcile: %v", err)
		}
	})
	if err != nil {
		return err
	}
	d.cron.Start()
	return nil
}

// Stop halts the reconciler schedule.
func (d *DocProof) Stop() {
	d.cron.Stop()
}
