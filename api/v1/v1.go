// Copyright (c) 2017-2019 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package v1

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	// APIVersion defines the version number for this code.
	APIVersion = 1

	// DefaultMainnetHost indicates the default mainnet proof host server.
	DefaultMainnetHost = "proof.decred.org"

	// DefaultMainnetPort indicates the default mainnet proof host port.
	DefaultMainnetPort = "49160"

	// DefaultTestnetHost indicates the default testnet proof host server.
	DefaultTestnetHost = "proof-testnet.decred.org"

	// DefaultTestnetPort indicates the default testnet proof host port.
	DefaultTestnetPort = "59160"

	// FeedUnconfirmed is the name of the feed of the most recently
	// detected payments.
	FeedUnconfirmed = "latest-unconfirmed"

	// FeedConfirmed is the name of the feed of the most recently
	// confirmed anchors.
	FeedConfirmed = "latest-confirmed"

	// Explorer webhook event types.
	EventUnconfirmedTx = "unconfirmed-tx"
	EventConfirmedTx   = "confirmed-tx"

	// AnchorMarker prefixes the digest in the anchoring null data
	// output.
	AnchorMarker = "DOCPROOF"

	// Error reasons returned to clients.
	ReasonInvalidDigest  = "Invalid digest field"
	ReasonNotFound       = "Digest not found"
	ReasonUnauthorized   = "Unauthorized"
	ReasonInvalidPayload = "Invalid request payload"
)

var (
	// RoutePrefix is the route url prefix for this version.
	RoutePrefix = fmt.Sprintf("/api/v%v", APIVersion)

	// InternalPrefix is the route url prefix of the activity feeds.
	InternalPrefix = "/api/internal"

	// RegisterRoute defines the API route for registering a digest.
	RegisterRoute = RoutePrefix + "/register"

	// StatusRoute defines the API route for retrieving the status of a
	// registered digest.
	StatusRoute = RoutePrefix + "/status"

	// VersionRoute defines the API route for retrieving the server
	// version and network.
	VersionRoute = RoutePrefix + "/version"

	// LatestUnconfirmedRoute returns the most recently paid digests.
	LatestUnconfirmedRoute = InternalPrefix + "/latest/unconfirmed"

	// LatestConfirmedRoute returns the most recently anchored digests.
	LatestConfirmedRoute = InternalPrefix + "/latest/confirmed"

	// Webhook routes.  The explorer echoes {secret} on every callback;
	// {address} is the payment address the subscription is scoped to.
	UnconfirmedRoute = "/unconfirmed/{secret}/{address}"
	ConfirmedRoute   = "/confirmed/{secret}/{address}"
	AnchoredRoute    = "/anchored/{secret}/{address}"

	// RegexpSHA256 is the valid text representation of a sha256 digest.
	RegexpSHA256 = regexp.MustCompile("^[A-Fa-f0-9]{64}$")
)

// WebhookURL returns the callback URL for route, which must be one of the
// webhook routes, below base.
func WebhookURL(base, route, secret, address string) string {
	r := strings.Replace(route, "{secret}", secret, 1)
	r = strings.Replace(r, "{address}", address, 1)
	return strings.TrimSuffix(base, "/") + r
}

// Register asks the server to allocate a payment address for a digest.
type Register struct {
	Digest string `json:"digest"`
}

// RegisterReply is returned by the server after registering a digest.
// Price is expressed in atoms and must be paid to PayAddress.
type RegisterReply struct {
	Success    bool   `json:"success"`
	Digest     string `json:"digest"`
	Price      int64  `json:"price"`
	PayAddress string `json:"pay_address"`
}

// Status asks the server for the state of a registered digest.
type Status struct {
	Digest string `json:"digest"`
}

// StatusReply describes a registered digest.  Timestamps are UNIX seconds
// and are null until the respective event happened: Txstamp when payment
// was first seen, Blockstamp when the anchoring transaction confirmed.
type StatusReply struct {
	Success        bool   `json:"success"`
	Digest         string `json:"digest"`
	Pending        bool   `json:"pending"`
	PaymentAddress string `json:"payment_address"`
	Price          int64  `json:"price"`
	Network        string `json:"network"`
	Timestamp      *int64 `json:"timestamp"`
	Txstamp        *int64 `json:"txstamp"`
	Blockstamp     *int64 `json:"blockstamp"`
	Transaction    string `json:"transaction"`
}

// FeedEntry is a single element of the latest activity feeds.
type FeedEntry struct {
	Digest      string `json:"digest"`
	Timestamp   int64  `json:"timestamp"`
	Transaction string `json:"transaction"`
}

// VersionReply returns the server version and active network.
type VersionReply struct {
	Version string `json:"version"`
	Network string `json:"network"`
}

// ErrorReply is returned by the server on failure.
type ErrorReply struct {
	Reason string `json:"reason"`
}

// Hook is a webhook subscription registered with the explorer.  Address
// scopes address events, Hash scopes events for a single transaction.
type Hook struct {
	Event         string `json:"event"`
	Address       string `json:"address,omitempty"`
	Hash          string `json:"hash,omitempty"`
	URL           string `json:"url"`
	Confirmations int32  `json:"confirmations,omitempty"`
	ID            string `json:"id,omitempty"`
}

// Tx is the transaction payload delivered by explorer webhooks and
// returned in address histories.
type Tx struct {
	Hash          string     `json:"hash"`
	BlockHeight   int64      `json:"block_height"`
	Confirmations int32      `json:"confirmations"`
	Outputs       []TxOutput `json:"outputs"`
}

// TxOutput is a single transaction output.  Value is in atoms.
type TxOutput struct {
	Value      int64    `json:"value"`
	Script     string   `json:"script"`
	ScriptType string   `json:"script_type"`
	Addresses  []string `json:"addresses"`
}

// PaidTo returns the total amount the transaction pays to address.
func (t *Tx) PaidTo(address string) int64 {
	var total int64
	for _, o := range t.Outputs {
		for _, a := range o.Addresses {
			if a == address {
				total += o.Value
				break
			}
		}
	}
	return total
}

// AddressFull is the explorer reply for an address history.
type AddressFull struct {
	Address string `json:"address"`
	TXs     []Tx   `json:"txs"`
}

// PushTx submits a raw hex encoded transaction to the explorer.
type PushTx struct {
	Tx string `json:"tx"`
}

// PushTxReply is the explorer reply to PushTx.
type PushTxReply struct {
	Tx Tx `json:"tx"`
}

// WebhookReply acknowledges a webhook delivery.
type WebhookReply struct {
	Success bool `json:"success"`
}
