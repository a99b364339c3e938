// Copyright (c) 2017-2019 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"crypto/tls"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/decred/dcrd/dcrutil"
	v1 "github.com/decred/dcrproof/api/v1"
	"github.com/decred/dcrproof/util"
)

var (
	testnet    = flag.Bool("testnet", false, "Use testnet port")
	debug      = flag.Bool("debug", false, "Print JSON that is sent to server")
	printJson  = flag.Bool("json", false, "Print JSON response from server")
	fileOnly   = flag.Bool("file", false, "Treat all arguments as file names")
	host       = flag.String("h", "", "Proof host")
	trial      = flag.Bool("t", false, "Trial run, don't contact server")
	verbose    = flag.Bool("v", false, "Verbose")
	register   = flag.Bool("register", false, "Register digest arguments instead of querying their status")
	latest     = flag.String("latest", "", "Show a feed: unconfirmed or confirmed")
	skipVerify = flag.Bool("k", false, "Do not verify the server certificate")
)

// normalizeAddress returns addr with the passed default port appended if
// there is not already a port specified.
func normalizeAddress(addr, defaultPort string) string {
	_, _, err := net.SplitHostPort(addr)
	if err != nil {
		return net.JoinHostPort(addr, defaultPort)
	}
	return addr
}

// isFile determines if the provided filename points to a valid file.
func isFile(filename string) bool {
	fi, err := os.Stat(filename)
	if err != nil {
		return false
	}
	return fi.Mode().IsRegular()
}

// isDigest determines if a string is a valid SHA256 digest.
func isDigest(digest string) bool {
	return v1.RegexpSHA256.MatchString(digest)
}

// getError returns the reason that is embedded in a JSON error reply.
func getError(r io.Reader) (string, error) {
	var e v1.ErrorReply
	decoder := json.NewDecoder(r)
	if err := decoder.Decode(&e); err != nil {
		return "", err
	}
	if e.Reason == "" {
		return "", fmt.Errorf("no error response")
	}
	return e.Reason, nil
}

func newClient(skipVerify bool) *http.Client {
	tlsConfig := &tls.Config{
		InsecureSkipVerify: skipVerify,
	}
	tr := &http.Transport{
		TLSClientConfig: tlsConfig,
	}
	return &http.Client{Transport: tr}
}

// do sends a request to the server and decodes the reply into reply.  It
// returns false if there is nothing left to do.
func do(method, route string, request, reply interface{}) (bool, error) {
	var body io.Reader
	if request != nil {
		b, err := json.Marshal(request)
		if err != nil {
			return false, err
		}
		if *debug {
			fmt.Println(string(b))
		}
		body = bytes.NewReader(b)
	}

	// If this is a trial run return.
	if *trial {
		return false, nil
	}

	req, err := http.NewRequest(method, *host+route, body)
	if err != nil {
		return false, err
	}
	if request != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	r, err := newClient(*skipVerify).Do(req)
	if err != nil {
		return false, err
	}
	defer r.Body.Close()

	if r.StatusCode != http.StatusOK {
		e, err := getError(r.Body)
		if err != nil {
			return false, fmt.Errorf("%v", r.Status)
		}
		return false, fmt.Errorf("%v: %v", r.Status, e)
	}

	if *printJson {
		io.Copy(os.Stdout, r.Body)
		fmt.Printf("\n")
		return false, nil
	}

	if err := json.NewDecoder(r.Body).Decode(reply); err != nil {
		return false, fmt.Errorf("could not decode reply: %v", err)
	}
	return true, nil
}

func formatStamp(t *int64) string {
	if t == nil {
		return "-"
	}
	return time.Unix(*t, 0).UTC().Format(time.RFC3339)
}

func registerDigest(digest, filename string) error {
	var reply v1.RegisterReply
	ok, err := do(http.MethodPost, v1.RegisterRoute,
		v1.Register{Digest: digest}, &reply)
	if err != nil || !ok {
		return err
	}

	fmt.Printf("%v Pay %v to %v %v\n", reply.Digest,
		dcrutil.Amount(reply.Price), reply.PayAddress, filename)
	return nil
}

func status(digest string) error {
	var reply v1.StatusReply
	ok, err := do(http.MethodPost, v1.StatusRoute,
		v1.Status{Digest: digest}, &reply)
	if err != nil || !ok {
		return err
	}

	state := "Anchored"
	switch {
	case reply.Txstamp == nil:
		state = "Awaiting payment"
	case reply.Pending:
		state = "Pending"
	}
	fmt.Printf("%v %v\n", reply.Digest, state)

	if !*verbose {
		return nil
	}
	fmt.Printf("  %-15v: %v\n", "Network", reply.Network)
	fmt.Printf("  %-15v: %v\n", "Pay Address", reply.PaymentAddress)
	fmt.Printf("  %-15v: %v\n", "Registered", formatStamp(reply.Timestamp))
	fmt.Printf("  %-15v: %v\n", "Paid", formatStamp(reply.Txstamp))
	fmt.Printf("  %-15v: %v\n", "Confirmed", formatStamp(reply.Blockstamp))
	fmt.Printf("  %-15v: %v\n", "TxID", reply.Transaction)
	return nil
}

func showLatest(feed string) error {
	var route string
	switch feed {
	case "unconfirmed":
		route = v1.LatestUnconfirmedRoute
	case "confirmed":
		route = v1.LatestConfirmedRoute
	default:
		return fmt.Errorf("unknown feed: %v", feed)
	}

	var entries []v1.FeedEntry
	ok, err := do(http.MethodGet, route, nil, &entries)
	if err != nil || !ok {
		return err
	}
	for _, e := range entries {
		fmt.Printf("%v %v %v\n", time.Unix(e.Timestamp, 0).UTC().
			Format(time.RFC3339), e.Digest, e.Transaction)
	}
	return nil
}

func _main() error {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("Could not load configuration file: %v", err)
	}
	if cfg.TestNet {
		*testnet = true
	}
	if cfg.SkipVerify {
		*skipVerify = true
	}
	if *host == "" {
		*host = cfg.Host
	}

	if *host == "" {
		if *testnet {
			*host = v1.DefaultTestnetHost
		} else {
			*host = v1.DefaultMainnetHost
		}
	}

	port := v1.DefaultMainnetPort
	if *testnet {
		port = v1.DefaultTestnetPort
	}

	*host = normalizeAddress(*host, port)

	// Set port if not specified.
	u, err := url.Parse("https://" + *host)
	if err != nil {
		return err
	}
	*host = u.String()

	if *latest != "" {
		return showLatest(*latest)
	}

	// Files are registered.  Digests are looked up unless -register is
	// set.
	var registers, lookups []string
	exists := make(map[string]string) // [digest]filename
	for _, a := range flag.Args() {
		if isFile(a) || *fileOnly {
			d, err := util.DigestFile(a)
			if err != nil {
				return err
			}

			// Skip dups.
			if old, ok := exists[d]; ok {
				fmt.Printf("warning: duplicate digest "+
					"skipped: %v  %v -> %v\n", d, old, a)
				continue
			}
			exists[d] = a

			registers = append(registers, d)
			if *verbose {
				fmt.Printf("%v Register %v\n", d, a)
			}
			continue
		}

		if isDigest(a) {
			if *register {
				registers = append(registers, a)
			} else {
				lookups = append(lookups, a)
			}
			continue
		}

		return fmt.Errorf("%v is not a digest or valid file", a)
	}

	if len(registers) == 0 && len(lookups) == 0 {
		return fmt.Errorf("nothing to do")
	}

	for _, d := range registers {
		if err := registerDigest(d, exists[d]); err != nil {
			return err
		}
	}
	for _, d := range lookups {
		if err := status(d); err != nil {
			return err
		}
	}

	return nil
}

func main() {
	err := _main()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
