// Copyright (c) 2017 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/decred/dcrd/dcrutil"
	v1 "github.com/decred/dcrproof/api/v1"
	"github.com/decred/dcrproof/dcrproofd/backend"
	"github.com/decred/dcrproof/dcrproofd/backend/filesystem"
	"github.com/decred/dcrproof/dcrproofd/backend/postgres"
	"github.com/decred/dcrproof/dcrproofd/dcrproofwallet"
	"github.com/decred/dcrproof/dcrproofd/docproof"
	"github.com/decred/dcrproof/dcrproofd/explorer"
	"github.com/decred/dcrproof/util"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
)

const (
	forward = "X-Forwarded-For"

	// maxBodySize limits client and webhook request bodies.
	maxBodySize = 1 << 20

	// secretSize is the number of random bytes in a generated webhook
	// secret.
	secretSize = 32
)

// DcrProof application context.
type DcrProof struct {
	backend backend.Backend
	proof   *docproof.DocProof
	network string
	router  *mux.Router
}

// via returns the client address for the audit log.
func via(r *http.Request) string {
	xff := r.Header.Get(forward)
	if xff != "" {
		return fmt.Sprintf("%v via %v", xff, r.RemoteAddr)
	}
	return r.RemoteAddr
}

// respondWithError translates err into a status code and reason.
func (d *DcrProof) respondWithError(w http.ResponseWriter, r *http.Request, action string, err error) {
	switch {
	case errors.Is(err, docproof.ErrInvalidDigest):
		util.RespondWithError(w, http.StatusBadRequest,
			v1.ReasonInvalidDigest)
	case errors.Is(err, docproof.ErrNotFound):
		util.RespondWithError(w, http.StatusNotFound, v1.ReasonNotFound)
	case errors.Is(err, docproof.ErrUnauthorized):
		log.Warnf("%v %v: unauthorized", via(r), action)
		util.RespondWithError(w, http.StatusUnauthorized,
			v1.ReasonUnauthorized)
	case errors.Is(err, docproof.ErrMalformedPayload):
		util.RespondWithError(w, http.StatusBadRequest,
			v1.ReasonInvalidPayload)
	case errors.Is(err, docproof.ErrGatewayUnavailable),
		errors.Is(err, docproof.ErrBroadcastFailed):
		log.Errorf("%v %v: %v", via(r), action, err)
		util.RespondWithError(w, http.StatusServiceUnavailable,
			"Service unavailable, please try again later.")
	default:
		// Generic internal error.
		errorCode := time.Now().Unix()
		log.Errorf("%v %v error code %v: %v", via(r), action,
			errorCode, err)
		util.RespondWithError(w, http.StatusInternalServerError,
			fmt.Sprintf("Could not process request, contact "+
				"administrator and provide the following "+
				"error code: %v", errorCode))
	}
}

// digestFromRequest returns the digest from a JSON body or from the d form
// field.
func digestFromRequest(w http.ResponseWriter, r *http.Request) (string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	defer r.Body.Close()

	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var reg v1.Register
		if err := json.NewDecoder(r.Body).Decode(&reg); err != nil {
			return "", docproof.ErrMalformedPayload
		}
		return reg.Digest, nil
	}
	return r.FormValue("d"), nil
}

func (d *DcrProof) register(w http.ResponseWriter, r *http.Request) {
	digest, err := digestFromRequest(w, r)
	if err != nil {
		d.respondWithError(w, r, "register", err)
		return
	}

	reply, err := d.proof.Register(r.Context(), digest)
	if err != nil {
		d.respondWithError(w, r, "register", err)
		return
	}

	log.Infof("Register %v: %v %v", via(r), reply.Digest, reply.PayAddress)

	util.RespondWithJSON(w, http.StatusOK, reply)
}

func (d *DcrProof) status(w http.ResponseWriter, r *http.Request) {
	digest, err := digestFromRequest(w, r)
	if err != nil {
		d.respondWithError(w, r, "status", err)
		return
	}

	reply, err := d.proof.Status(digest)
	if err != nil {
		d.respondWithError(w, r, "status", err)
		return
	}

	util.RespondWithJSON(w, http.StatusOK, reply)
}

func (d *DcrProof) latest(feed string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries, err := d.proof.Latest(feed)
		if err != nil {
			d.respondWithError(w, r, feed, err)
			return
		}
		if entries == nil {
			entries = []v1.FeedEntry{}
		}
		util.RespondWithJSON(w, http.StatusOK, entries)
	}
}

func (d *DcrProof) version(w http.ResponseWriter, r *http.Request) {
	util.RespondWithJSON(w, http.StatusOK, v1.VersionReply{
		Version: version(),
		Network: d.network,
	})
}

// webhookFunc is the signature of the callback handlers of DocProof.
type webhookFunc func(ctx context.Context, address, secret string, tx *v1.Tx) error

// webhook authenticates, decodes and dispatches an explorer callback.  Any
// authenticated and well formed delivery is acknowledged.  Anchoring that
// failed on the gateway is retried by the reconciler with the stored
// transaction.
func (d *DcrProof) webhook(action string, fn webhookFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		secret, address := vars["secret"], vars["address"]

		if err := d.proof.Authenticate(secret); err != nil {
			d.respondWithError(w, r, action, err)
			return
		}

		var tx v1.Tx
		r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
		defer r.Body.Close()
		if err := json.NewDecoder(r.Body).Decode(&tx); err != nil {
			d.respondWithError(w, r, action,
				docproof.ErrMalformedPayload)
			return
		}

		log.Debugf("Webhook %v %v: %v tx %v confirmations %v", action,
			via(r), address, tx.Hash, tx.Confirmations)

		err := fn(r.Context(), address, secret, &tx)
		switch {
		case errors.Is(err, docproof.ErrGatewayUnavailable),
			errors.Is(err, docproof.ErrBroadcastFailed):
			log.Errorf("%v %v %v: %v", via(r), action, address, err)
		case err != nil:
			d.respondWithError(w, r, action, err)
			return
		}

		util.RespondWithJSON(w, http.StatusOK, v1.WebhookReply{
			Success: true,
		})
	}
}

// setupRoutes registers all routes on the router.
func (d *DcrProof) setupRoutes() {
	d.router.HandleFunc(v1.RegisterRoute, d.register).Methods("POST")
	d.router.HandleFunc(v1.StatusRoute, d.status).Methods("POST")
	d.router.HandleFunc(v1.VersionRoute, d.version).Methods("GET")
	d.router.HandleFunc(v1.LatestUnconfirmedRoute,
		d.latest(v1.FeedUnconfirmed)).Methods("GET")
	d.router.HandleFunc(v1.LatestConfirmedRoute,
		d.latest(v1.FeedConfirmed)).Methods("GET")
	d.router.HandleFunc(v1.UnconfirmedRoute,
		d.webhook("unconfirmed", d.proof.OnUnconfirmedPayment)).Methods("POST")
	d.router.HandleFunc(v1.ConfirmedRoute,
		d.webhook("confirmed", d.proof.OnConfirmedPayment)).Methods("POST")
	d.router.HandleFunc(v1.AnchoredRoute,
		d.webhook("anchored", d.proof.OnAnchorConfirmed)).Methods("POST")
}

// recoveryLogger routes handler panics to the HTTP log.
type recoveryLogger struct{}

func (recoveryLogger) Println(v ...interface{}) {
	httpLog.Error(v...)
}

// redactSecret hides the webhook secret from the access log.  Routing uses
// the parsed URL and is unaffected.
func redactSecret(secret string, h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.RequestURI, secret) {
			rc := *r
			rc.RequestURI = strings.Replace(r.RequestURI, secret,
				"[redacted]", -1)
			r = &rc
		}
		h.ServeHTTP(w, r)
	})
}

// handler wraps the router in the middleware stack.
func (d *DcrProof) handler(secret string) http.Handler {
	var h http.Handler = d.router
	h = handlers.RecoveryHandler(handlers.RecoveryLogger(recoveryLogger{}),
		handlers.PrintRecoveryStack(true))(h)
	h = handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{"GET", "POST", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
	)(h)
	h = handlers.CombinedLoggingHandler(httpLogWriter{}, h)
	return redactSecret(secret, h)
}

// webhookSecret returns the configured secret or the one stored in the
// database, generating it on first start.
func webhookSecret(b backend.Backend, configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	var s [secretSize]byte
	if _, err := io.ReadFull(rand.Reader, s[:]); err != nil {
		return "", err
	}
	return b.Secret(hex.EncodeToString(s[:]))
}

func _main() error {
	// Load configuration and parse command line.  This function also
	// initializes logging and configures it accordingly.
	loadedCfg, _, err := loadConfig()
	if err != nil {
		return fmt.Errorf("Could not load configuration file: %v", err)
	}
	defer func() {
		if logRotator != nil {
			logRotator.Close()
		}
	}()

	log.Infof("Version : %v", version())
	log.Infof("Network : %v", activeNetParams.Params.Name)
	log.Infof("Home dir: %v", loadedCfg.HomeDir)
	log.Infof("Backend : %v", loadedCfg.Backend)

	// Create the data directory in case it does not exist.
	err = os.MkdirAll(loadedCfg.DataDir, 0700)
	if err != nil {
		return err
	}

	// Generate the TLS cert and key file if both don't already
	// exist.
	if !fileExists(loadedCfg.HTTPSKey) &&
		!fileExists(loadedCfg.HTTPSCert) {
		log.Infof("Generating HTTPS keypair...")

		err := util.GenCertPair("dcrproofd", loadedCfg.HTTPSCert,
			loadedCfg.HTTPSKey)
		if err != nil {
			return fmt.Errorf("unable to create https keypair: %v",
				err)
		}

		log.Infof("HTTPS keypair created...")
	}

	// Setup backend.
	var b backend.Backend
	switch loadedCfg.Backend {
	case "filesystem":
		b, err = filesystem.New(loadedCfg.DataDir)
	case "postgres":
		b, err = postgres.New(loadedCfg.PostgresUser,
			loadedCfg.PostgresHost, activeNetParams.Name,
			loadedCfg.PostgresRootCert, loadedCfg.PostgresCert,
			loadedCfg.PostgresKey)
	}
	if err != nil {
		return err
	}
	defer b.Close()

	secret, err := webhookSecret(b, loadedCfg.WebhookSecret)
	if err != nil {
		return fmt.Errorf("webhook secret: %v", err)
	}

	// Setup chain access.
	wallet, err := dcrproofwallet.New(loadedCfg.WalletCert,
		loadedCfg.WalletHost, []byte(loadedCfg.WalletPassphrase),
		loadedCfg.WalletAccount, activeNetParams.Params)
	if err != nil {
		return err
	}
	defer wallet.Close()

	balance, err := wallet.Balance(context.Background())
	if err != nil {
		log.Warnf("Wallet balance: %v", err)
	} else {
		log.Infof("Wallet  : spendable %v unconfirmed %v",
			dcrutil.Amount(balance.Spendable),
			dcrutil.Amount(balance.Unconfirmed))
		if balance.Spendable == 0 {
			log.Warnf("Wallet account has no spendable funds, " +
				"anchoring will fail")
		}
	}

	price, err := dcrutil.NewAmount(loadedCfg.Price)
	if err != nil {
		return fmt.Errorf("invalid price: %v", err)
	}

	proof, err := docproof.New(docproof.Config{
		Price:            price,
		Params:           activeNetParams.Params,
		Secret:           secret,
		CallbackURL:      loadedCfg.PublicURL,
		MinConfirmations: loadedCfg.MinConfirmations,
		FeedSize:         loadedCfg.FeedSize,
		ClaimTimeout:     loadedCfg.ClaimTimeout,
	}, b, &chainGateway{
		wallet: wallet,
		explorer: explorer.New(loadedCfg.ExplorerURL,
			loadedCfg.ExplorerToken, loadedCfg.ExplorerTimeout),
	})
	if err != nil {
		return err
	}
	log.Infof("Price   : %v", price)

	// Replay missed webhooks once at start and then on schedule.
	if loadedCfg.Reconcile != "" {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(),
				loadedCfg.ReconcileTimeout)
			defer cancel()
			if err := proof.Reconcile(ctx); err != nil {
				log.Errorf("Startup reconcile: %v", err)
			}
		}()
		err = proof.Start(loadedCfg.Reconcile, loadedCfg.ReconcileTimeout)
		if err != nil {
			return fmt.Errorf("reconcile schedule: %v", err)
		}
		defer proof.Stop()
	}

	// Setup application context
	d := &DcrProof{
		backend: b,
		proof:   proof,
		network: activeNetParams.Name,
		router:  mux.NewRouter(),
	}
	d.setupRoutes()
	h := d.handler(secret)

	// Bind to a port and pass our router in
	listenC := make(chan error)
	for _, listener := range loadedCfg.Listeners {
		listen := listener
		go func() {
			log.Infof("Listen: %v", listen)
			listenC <- http.ListenAndServeTLS(listen,
				loadedCfg.HTTPSCert, loadedCfg.HTTPSKey, h)
		}()
	}

	// Tell user we are ready to go.
	log.Infof("Start of day")

	// Setup OS signals
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigs:
		log.Infof("Terminating with %v", sig)
	case err := <-listenC:
		log.Errorf("%v", err)
	}

	log.Infof("Exiting")

	return nil
}

func main() {
	err := _main()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
