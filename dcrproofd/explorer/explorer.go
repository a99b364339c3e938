// Copyright (c) 2019 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package explorer is a client for the block explorer REST service that
// delivers address webhooks, relays raw transactions and serves address
// histories.  All endpoints live below a per-network base URL, for example
// https://api.example.com/v1/dcr/main, and are authenticated with a token
// query parameter.
package explorer

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/decred/dcrd/wire"
	v1 "github.com/decred/dcrproof/api/v1"
)

const (
	hooksPath = "/hooks"
	pushPath  = "/txs/push"
	addrsPath = "/addrs/"

	// Address history page sizes.
	addrLimit   = "50"
	addrTxLimit = "2000"

	// maxErrorBody limits how much of an error reply is kept.
	maxErrorBody = 512
)

// ErrAlreadyKnown is returned by Push when the network already has the
// transaction.
var ErrAlreadyKnown = errors.New("transaction already known")

// StatusError is returned when the explorer answers with a non 2xx status.
type StatusError struct {
	Code int
	Body string
}

func (e StatusError) Error() string {
	return fmt.Sprintf("explorer status %v: %v", e.Code, e.Body)
}

// Explorer is a REST client.  It is safe for concurrent use.
type Explorer struct {
	base   string
	token  string
	client *http.Client
}

// New returns an explorer client for base.  Requests time out after
// timeout.
func New(base, token string, timeout time.Duration) *Explorer {
	return &Explorer{
		base:  strings.TrimSuffix(base, "/"),
		token: token,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// do issues a request and decodes a JSON reply into out when out is not
// nil.
func (e *Explorer) do(ctx context.Context, method, path string, q url.Values, in, out interface{}) error {
	if q == nil {
		q = url.Values{}
	}
	if e.token != "" {
		q.Set("token", e.token)
	}
	u := e.base + path + "?" + q.Encode()

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, u, body)
	if err != nil {
		return err
	}
	req = req.WithContext(ctx)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	// The URL carries the token and must not be logged.
	log.Tracef("%v %v", method, path)

	r, err := e.client.Do(req)
	if err != nil {
		return err
	}
	defer r.Body.Close()

	if r.StatusCode < 200 || r.StatusCode > 299 {
		b, _ := ioutil.ReadAll(io.LimitReader(r.Body, maxErrorBody))
		return StatusError{Code: r.StatusCode, Body: string(b)}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(r.Body).Decode(out)
}

// Subscribe registers a webhook and returns the hook as stored by the
// explorer.
func (e *Explorer) Subscribe(ctx context.Context, h v1.Hook) (*v1.Hook, error) {
	var reply v1.Hook
	err := e.do(ctx, http.MethodPost, hooksPath, nil, h, &reply)
	if err != nil {
		return nil, fmt.Errorf("subscribe %v: %w", h.Event, err)
	}
	log.Debugf("Subscribed %v %v%v id %v", h.Event, h.Address, h.Hash,
		reply.ID)
	return &reply, nil
}

// Push relays a raw signed transaction to the network and returns its
// hash.
func (e *Explorer) Push(ctx context.Context, raw []byte) (string, error) {
	var reply v1.PushTxReply
	err := e.do(ctx, http.MethodPost, pushPath, nil,
		v1.PushTx{Tx: hex.EncodeToString(raw)}, &reply)
	if err != nil {
		var se StatusError
		if errors.As(err, &se) && alreadyKnown(se.Body) {
			var mtx wire.MsgTx
			if derr := mtx.Deserialize(bytes.NewReader(raw)); derr == nil {
				return mtx.TxHash().String(),
					fmt.Errorf("push: %w: %v", ErrAlreadyKnown, err)
			}
		}
		return "", fmt.Errorf("push: %w", err)
	}
	if reply.Tx.Hash == "" {
		return "", fmt.Errorf("push: explorer returned no hash")
	}
	log.Debugf("Pushed %v", reply.Tx.Hash)
	return reply.Tx.Hash, nil
}

// alreadyKnown reports whether a push rejection means the transaction was
// relayed before.
func alreadyKnown(body string) bool {
	body = strings.ToLower(body)
	return strings.Contains(body, "already have") ||
		strings.Contains(body, "already exists") ||
		strings.Contains(body, "already in block chain") ||
		strings.Contains(body, "already known")
}

// AddressFull returns the transaction history of address.
func (e *Explorer) AddressFull(ctx context.Context, address string) (*v1.AddressFull, error) {
	q := url.Values{}
	q.Set("limit", addrLimit)
	q.Set("txlimit", addrTxLimit)

	var reply v1.AddressFull
	err := e.do(ctx, http.MethodGet, addrsPath+url.PathEscape(address)+
		"/full", q, nil, &reply)
	if err != nil {
		return nil, fmt.Errorf("address %v: %w", address, err)
	}
	return &reply, nil
}
