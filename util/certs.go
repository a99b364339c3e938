// Copyright (c) 2017-2019 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package util

import (
	"fmt"
	"io/ioutil"
	"os"
	"time"

	"github.com/decred/dcrd/certgen"
)

// GenCertPair generates a self signed TLS key pair and writes them to the
// provided paths.  The certificate is valid for ten years.
func GenCertPair(org, certFile, keyFile string) error {
	validUntil := time.Now().Add(10 * 365 * 24 * time.Hour)
	cert, key, err := certgen.NewTLSCertPair(org, validUntil, nil)
	if err != nil {
		return err
	}

	if err = ioutil.WriteFile(certFile, cert, 0644); err != nil {
		return err
	}
	if err = ioutil.WriteFile(keyFile, key, 0600); err != nil {
		os.Remove(certFile)
		return fmt.Errorf("write %v: %v", keyFile, err)
	}

	return nil
}
