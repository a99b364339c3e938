// Copyright (c) 2013-2015 The btcsuite developers
// Copyright (c) 2015-2019 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"github.com/decred/dcrd/chaincfg"
)

// activeNetParams is a pointer to the parameters specific to the
// currently active decred network.
var activeNetParams = &mainNetParams

// params is used to group parameters for various networks such as the main
// network and test networks.
type params struct {
	*chaincfg.Params
	DefaultPort string
	WalletHost  string
	Explorer    string
}

// mainNetParams contains parameters specific to the main network
// (wire.MainNet).
var mainNetParams = params{
	Params:      &chaincfg.MainNetParams,
	DefaultPort: "49160",
	WalletHost:  "127.0.0.1:9111",
	Explorer:    "https://api.blockcypher.com/v1/dcr/main",
}

// testNet3Params contains parameters specific to the test network (version 3)
// (wire.TestNet3).
var testNet3Params = params{
	Params:      &chaincfg.TestNet3Params,
	DefaultPort: "59160",
	WalletHost:  "127.0.0.1:19111",
	Explorer:    "https://api.blockcypher.com/v1/dcr/test3",
}

// simNetParams contains parameters specific to the simulation test network
// (wire.SimNet).  There is no public explorer for simnet.
var simNetParams = params{
	Params:      &chaincfg.SimNetParams,
	DefaultPort: "59161",
	WalletHost:  "127.0.0.1:19558",
	Explorer:    "http://127.0.0.1:7777/v1/dcr/sim",
}
