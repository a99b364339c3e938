// Copyright (c) 2019 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/decred/dcrd/chaincfg"
	"github.com/decred/dcrd/wire"
	v1 "github.com/decred/dcrproof/api/v1"
	"github.com/decred/dcrproof/dcrproofd/backend/filesystem"
	"github.com/decred/dcrproof/dcrproofd/docproof"
	"github.com/gorilla/mux"
)

const (
	testSecret = "fedcba9876543210"
	testDigest = "ab5d4bd8c6ec4a4a6d0f0a7dbd84ab2f4bd4e3b1e4a5f3e6d8b0a9b8c7d6e5f4"
	testPrice  = 50000
)

// testGateway mints sequential addresses and relays every transaction.
type testGateway struct {
	sync.Mutex

	addresses int
	pushErr   error
	pushed    []string
}

func (g *testGateway) NewAddress(ctx context.Context) (string, error) {
	g.Lock()
	defer g.Unlock()
	g.addresses++
	return "TsAddress" + strings.Repeat("x", g.addresses), nil
}

func (g *testGateway) Subscribe(ctx context.Context, h v1.Hook) error {
	return nil
}

func (g *testGateway) Construct(ctx context.Context, script []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mtx := wire.NewMsgTx()
	mtx.AddTxOut(wire.NewTxOut(0, script))
	var b bytes.Buffer
	if err := mtx.Serialize(&b); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

func (g *testGateway) Push(ctx context.Context, raw []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var mtx wire.MsgTx
	if err := mtx.Deserialize(bytes.NewReader(raw)); err != nil {
		return "", err
	}
	g.Lock()
	defer g.Unlock()
	if g.pushErr != nil {
		return "", g.pushErr
	}
	txid := mtx.TxHash().String()
	g.pushed = append(g.pushed, txid)
	return txid, nil
}

func (g *testGateway) AddressTransactions(ctx context.Context, address string) ([]v1.Tx, error) {
	return nil, nil
}

func (g *testGateway) Confirmations(ctx context.Context, txid string) (int32, error) {
	return 0, nil
}

func newTestServer(t *testing.T) (*DcrProof, *testGateway, func()) {
	t.Helper()

	dir, err := ioutil.TempDir("", "dcrproofd.test")
	if err != nil {
		t.Fatal(err)
	}
	fs, err := filesystem.New(dir)
	if err != nil {
		os.RemoveAll(dir)
		t.Fatal(err)
	}
	g := &testGateway{}
	proof, err := docproof.New(docproof.Config{
		Price:            testPrice,
		Params:           &chaincfg.TestNet3Params,
		Secret:           testSecret,
		CallbackURL:      "https://proof.example.com",
		MinConfirmations: 1,
		FeedSize:         5,
		ClaimTimeout:     time.Minute,
	}, fs, g)
	if err != nil {
		t.Fatal(err)
	}
	d := &DcrProof{
		backend: fs,
		proof:   proof,
		network: chaincfg.TestNet3Params.Name,
		router:  mux.NewRouter(),
	}
	d.setupRoutes()
	return d, g, func() {
		fs.Close()
		os.RemoveAll(dir)
	}
}

func serve(d *DcrProof, method, route, contentType string, body []byte) *httptest.ResponseRecorder {
	r := httptest.NewRequest(method, route, bytes.NewReader(body))
	if contentType != "" {
		r.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	d.router.ServeHTTP(w, r)
	return w
}

func postJSON(t *testing.T, d *DcrProof, route string, v interface{}) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return serve(d, http.MethodPost, route, "application/json", b)
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func hookRoute(route, secret, address string) string {
	route = strings.Replace(route, "{secret}", secret, 1)
	return strings.Replace(route, "{address}", address, 1)
}

func TestRegisterJSON(t *testing.T) {
	d, _, cleanup := newTestServer(t)
	defer cleanup()

	w := postJSON(t, d, v1.RegisterRoute, v1.Register{Digest: testDigest})
	if w.Code != http.StatusOK {
		t.Fatalf("got %v: %v", w.Code, w.Body.String())
	}
	var reply v1.RegisterReply
	decode(t, w, &reply)
	if !reply.Success || reply.Digest != testDigest ||
		reply.Price != testPrice || reply.PayAddress == "" {
		t.Fatalf("unexpected reply: %v", spew.Sdump(reply))
	}

	// Registering again, in upper case, returns the same address.
	w = postJSON(t, d, v1.RegisterRoute,
		v1.Register{Digest: strings.ToUpper(testDigest)})
	var again v1.RegisterReply
	decode(t, w, &again)
	if again.PayAddress != reply.PayAddress {
		t.Fatalf("address changed: %v != %v", again.PayAddress,
			reply.PayAddress)
	}
}

func TestRegisterForm(t *testing.T) {
	d, _, cleanup := newTestServer(t)
	defer cleanup()

	form := url.Values{"d": []string{testDigest}}
	w := serve(d, http.MethodPost, v1.RegisterRoute,
		"application/x-www-form-urlencoded", []byte(form.Encode()))
	if w.Code != http.StatusOK {
		t.Fatalf("got %v: %v", w.Code, w.Body.String())
	}
	var reply v1.RegisterReply
	decode(t, w, &reply)
	if reply.Digest != testDigest {
		t.Fatalf("unexpected reply: %v", spew.Sdump(reply))
	}
}

func TestRegisterErrors(t *testing.T) {
	d, _, cleanup := newTestServer(t)
	defer cleanup()

	tests := []struct {
		name   string
		body   []byte
		code   int
		reason string
	}{
		{"short", []byte(`{"digest":"abcd"}`), http.StatusBadRequest,
			v1.ReasonInvalidDigest},
		{"nothex", []byte(`{"digest":"` + strings.Repeat("z", 64) + `"}`),
			http.StatusBadRequest, v1.ReasonInvalidDigest},
		{"garbage", []byte(`{"digest":`), http.StatusBadRequest,
			v1.ReasonInvalidPayload},
	}
	for _, test := range tests {
		w := serve(d, http.MethodPost, v1.RegisterRoute,
			"application/json", test.body)
		if w.Code != test.code {
			t.Errorf("%v: got %v want %v", test.name, w.Code,
				test.code)
			continue
		}
		var er v1.ErrorReply
		decode(t, w, &er)
		if er.Reason != test.reason {
			t.Errorf("%v: got %q want %q", test.name, er.Reason,
				test.reason)
		}
	}
}

func TestStatus(t *testing.T) {
	d, _, cleanup := newTestServer(t)
	defer cleanup()

	w := postJSON(t, d, v1.StatusRoute, v1.Status{Digest: testDigest})
	if w.Code != http.StatusNotFound {
		t.Fatalf("got %v: %v", w.Code, w.Body.String())
	}

	postJSON(t, d, v1.RegisterRoute, v1.Register{Digest: testDigest})
	w = postJSON(t, d, v1.StatusRoute, v1.Status{Digest: testDigest})
	if w.Code != http.StatusOK {
		t.Fatalf("got %v: %v", w.Code, w.Body.String())
	}
	var s v1.StatusReply
	decode(t, w, &s)
	if !s.Pending || s.Txstamp != nil || s.Blockstamp != nil ||
		s.Network != chaincfg.TestNet3Params.Name {
		t.Fatalf("unexpected status: %v", spew.Sdump(s))
	}
}

func TestWebhooks(t *testing.T) {
	d, g, cleanup := newTestServer(t)
	defer cleanup()

	w := postJSON(t, d, v1.RegisterRoute, v1.Register{Digest: testDigest})
	var reg v1.RegisterReply
	decode(t, w, &reg)

	payment := v1.Tx{
		Hash:          strings.Repeat("1", 64),
		Confirmations: 1,
		Outputs: []v1.TxOutput{{
			Value:     testPrice,
			Addresses: []string{reg.PayAddress},
		}},
	}

	// Wrong secret.
	w = postJSON(t, d, hookRoute(v1.ConfirmedRoute, "wrong",
		reg.PayAddress), payment)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("got %v: %v", w.Code, w.Body.String())
	}

	// Malformed payload.
	w = serve(d, http.MethodPost, hookRoute(v1.ConfirmedRoute, testSecret,
		reg.PayAddress), "application/json", []byte("{"))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("got %v: %v", w.Code, w.Body.String())
	}

	// Broadcast failure is acknowledged and left to the reconciler.
	g.pushErr = errors.New("relay down")
	w = postJSON(t, d, hookRoute(v1.ConfirmedRoute, testSecret,
		reg.PayAddress), payment)
	if w.Code != http.StatusOK {
		t.Fatalf("got %v: %v", w.Code, w.Body.String())
	}
	if len(g.pushed) != 0 {
		t.Fatalf("pushed %v transactions", len(g.pushed))
	}

	g.pushErr = nil
	w = postJSON(t, d, hookRoute(v1.ConfirmedRoute, testSecret,
		reg.PayAddress), payment)
	if w.Code != http.StatusOK {
		t.Fatalf("got %v: %v", w.Code, w.Body.String())
	}
	var ack v1.WebhookReply
	decode(t, w, &ack)
	if !ack.Success {
		t.Fatalf("not acknowledged")
	}
	if len(g.pushed) != 1 {
		t.Fatalf("pushed %v transactions", len(g.pushed))
	}
	anchor := g.pushed[0]

	// Redelivery is acknowledged without a second broadcast.
	postJSON(t, d, hookRoute(v1.ConfirmedRoute, testSecret,
		reg.PayAddress), payment)
	if len(g.pushed) != 1 {
		t.Fatalf("pushed %v transactions", len(g.pushed))
	}

	w = postJSON(t, d, hookRoute(v1.AnchoredRoute, testSecret,
		reg.PayAddress), v1.Tx{Hash: anchor, Confirmations: 1})
	if w.Code != http.StatusOK {
		t.Fatalf("got %v: %v", w.Code, w.Body.String())
	}

	w = postJSON(t, d, v1.StatusRoute, v1.Status{Digest: testDigest})
	var s v1.StatusReply
	decode(t, w, &s)
	if s.Pending || s.Txstamp == nil || s.Blockstamp == nil ||
		s.Transaction != anchor {
		t.Fatalf("unexpected status: %v", spew.Sdump(s))
	}

	for _, route := range []string{v1.LatestUnconfirmedRoute,
		v1.LatestConfirmedRoute} {
		w = serve(d, http.MethodGet, route, "", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("%v: got %v", route, w.Code)
		}
		var feed []v1.FeedEntry
		decode(t, w, &feed)
		if len(feed) != 1 || feed[0].Digest != testDigest {
			t.Fatalf("%v: %v", route, spew.Sdump(feed))
		}
	}
}

func TestWebhookCanceledRequest(t *testing.T) {
	d, g, cleanup := newTestServer(t)
	defer cleanup()

	w := postJSON(t, d, v1.RegisterRoute, v1.Register{Digest: testDigest})
	var reg v1.RegisterReply
	decode(t, w, &reg)

	b, err := json.Marshal(v1.Tx{
		Hash:          strings.Repeat("1", 64),
		Confirmations: 1,
		Outputs: []v1.TxOutput{{
			Value:     testPrice,
			Addresses: []string{reg.PayAddress},
		}},
	})
	if err != nil {
		t.Fatal(err)
	}

	// The explorer hung up before the handler ran.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := httptest.NewRequest(http.MethodPost, hookRoute(v1.ConfirmedRoute,
		testSecret, reg.PayAddress), bytes.NewReader(b)).WithContext(ctx)
	r.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	d.router.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("got %v: %v", w.Code, w.Body.String())
	}
	if len(g.pushed) != 1 {
		t.Fatalf("pushed %v transactions", len(g.pushed))
	}

	w = postJSON(t, d, v1.StatusRoute, v1.Status{Digest: testDigest})
	var s v1.StatusReply
	decode(t, w, &s)
	if s.Transaction != g.pushed[0] {
		t.Fatalf("unexpected status: %v", spew.Sdump(s))
	}
}

func TestWebhookReservedAddress(t *testing.T) {
	d, _, cleanup := newTestServer(t)
	defer cleanup()

	postJSON(t, d, v1.RegisterRoute, v1.Register{Digest: testDigest})

	for _, address := range []string{v1.FeedConfirmed, "webhook-secret",
		"map-" + testDigest} {
		tx := v1.Tx{
			Hash:          strings.Repeat("1", 64),
			Confirmations: 1,
			Outputs: []v1.TxOutput{{
				Value:     testPrice,
				Addresses: []string{address},
			}},
		}
		for _, route := range []string{v1.UnconfirmedRoute,
			v1.ConfirmedRoute, v1.AnchoredRoute} {
			w := postJSON(t, d, hookRoute(route, testSecret, address),
				tx)
			if w.Code != http.StatusOK {
				t.Fatalf("%v %v: got %v: %v", route, address,
					w.Code, w.Body.String())
			}
		}
	}
}

func TestVersion(t *testing.T) {
	d, _, cleanup := newTestServer(t)
	defer cleanup()

	w := serve(d, http.MethodGet, v1.VersionRoute, "", nil)
	var reply v1.VersionReply
	decode(t, w, &reply)
	if reply.Version != version() ||
		reply.Network != chaincfg.TestNet3Params.Name {
		t.Fatalf("unexpected reply: %v", spew.Sdump(reply))
	}
}

func TestRedactSecret(t *testing.T) {
	var seen, path string
	h := redactSecret(testSecret, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.RequestURI
		path = r.URL.Path
	}))

	route := hookRoute(v1.ConfirmedRoute, testSecret, "TsAddress")
	h.ServeHTTP(httptest.NewRecorder(),
		httptest.NewRequest(http.MethodPost, route, nil))
	if strings.Contains(seen, testSecret) {
		t.Fatalf("secret leaked: %v", seen)
	}
	if path != route {
		t.Fatalf("path rewritten: %v", path)
	}
}

func TestWebhookSecret(t *testing.T) {
	dir, err := ioutil.TempDir("", "dcrproofd.test")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)
	fs, err := filesystem.New(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer fs.Close()

	s, err := webhookSecret(fs, "configured")
	if err != nil || s != "configured" {
		t.Fatalf("got %v %v", s, err)
	}

	first, err := webhookSecret(fs, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 2*secretSize {
		t.Fatalf("short secret %v", first)
	}
	second, err := webhookSecret(fs, "")
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Fatalf("secret not persisted: %v != %v", first, second)
	}
}
