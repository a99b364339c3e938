// Copyright (c) 2017-2019 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	v1 "github.com/decred/dcrproof/api/v1"
	"github.com/decred/dcrproof/util"
)

var (
	proof       = flag.String("p", "", "Proof file, the JSON status reply of dcrproof -json")
	file        = flag.String("f", "", "Original file")
	dcrdataHost = flag.String("h", "", "dcrdata host")
	testnet     = flag.Bool("testnet", false, "Use testnet dcrdata")
	verbose     = flag.Bool("v", false, "Verbose")
)

// verify checks that the saved status reply matches digest and that the
// anchoring transaction carries it.
func verify(digest string, fProof *os.File) error {
	var sr v1.StatusReply
	decoder := json.NewDecoder(fProof)
	if err := decoder.Decode(&sr); err != nil {
		return fmt.Errorf("Could not decode StatusReply: %v", err)
	}

	if !strings.EqualFold(sr.Digest, digest) {
		return fmt.Errorf("file digest not found in proof")
	}
	if sr.Pending || sr.Blockstamp == nil || sr.Transaction == "" {
		return fmt.Errorf("%v Not anchored", digest)
	}

	// If we made it here we have a well formed proof
	if *verbose {
		fmt.Printf("%v  Proof  OK\n", digest)
	}

	d, err := hex.DecodeString(digest)
	if err != nil {
		return err
	}

	// Verify against dcrdata
	err = util.VerifyAnchor(*dcrdataHost, sr.Transaction, d)
	if err != nil {
		return err
	}

	if *verbose {
		fmt.Printf("%v  Anchor OK %v\n", digest, sr.Transaction)
	}

	return nil
}

func _main() error {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "dcrproof_checker [-h {dcrdatahost}|"+
			"-testnet|-v] -f {file} -p {proof}\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	// require -f
	if *file == "" {
		return fmt.Errorf("must provide -f")
	}

	// require -p
	if *proof == "" {
		return fmt.Errorf("must provide -p")
	}

	if *dcrdataHost == "" {
		if *testnet {
			*dcrdataHost = "https://testnet.dcrdata.org/api/tx/"
		} else {
			*dcrdataHost = "https://explorer.dcrdata.org/api/tx/"
		}
	} else {
		if !strings.HasSuffix(*dcrdataHost, "/") {
			*dcrdataHost += "/"
		}
	}

	fProof, err := os.Open(*proof)
	if err != nil {
		return err
	}
	defer fProof.Close()

	// Get file digest
	d, err := util.DigestFile(*file)
	if err != nil {
		return err
	}

	if *verbose {
		fmt.Printf("%v  %v\n", d, *file)
	}

	return verify(d, fProof)
}

func main() {
	err := _main()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
