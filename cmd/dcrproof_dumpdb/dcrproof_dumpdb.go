// Copyright (c) 2017-2019 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/decred/dcrd/chaincfg"
	"github.com/decred/dcrd/dcrutil"
	"github.com/decred/dcrproof/dcrproofd/backend"
	"github.com/decred/dcrproof/dcrproofd/backend/filesystem"
	"github.com/decred/dcrproof/dcrproofd/backend/postgres"
)

var (
	defaultHomeDir = dcrutil.AppDataDir("dcrproofd", false)

	backendType = flag.String("backend", "filesystem", "Backend type: filesystem or postgres")
	dumpJSON    = flag.Bool("json", false, "Dump JSON")
	fsRoot      = flag.String("source", "", "Source directory")
	testnet     = flag.Bool("testnet", false, "Use the test network")
	simnet      = flag.Bool("simnet", false, "Use the simulation test network")

	pgUser     = flag.String("postgresuser", "dcrproofd", "Postgres user")
	pgHost     = flag.String("postgreshost", "localhost:5432", "Postgres ip:port")
	pgRootCert = flag.String("postgresrootcert", "", "File containing the CA certificate for postgres")
	pgCert     = flag.String("postgrescert", "", "File containing the client certificate for postgres")
	pgKey      = flag.String("postgreskey", "", "File containing the client certificate key for postgres")
)

func _main() error {
	flag.Parse()

	params := &chaincfg.MainNetParams
	switch {
	case *testnet && *simnet:
		return fmt.Errorf("-testnet and -simnet cannot be used together")
	case *testnet:
		params = &chaincfg.TestNet3Params
	case *simnet:
		params = &chaincfg.SimNetParams
	}

	var (
		b   backend.Backend
		err error
	)
	switch *backendType {
	case "filesystem":
		root := *fsRoot
		if root == "" {
			root = filepath.Join(defaultHomeDir, "data", params.Name)
		}
		b, err = filesystem.NewDump(root)
		if !*dumpJSON {
			fmt.Printf("=== Root: %v\n", root)
		}
	case "postgres":
		b, err = postgres.New(*pgUser, *pgHost, params.Name,
			*pgRootCert, *pgCert, *pgKey)
	default:
		err = fmt.Errorf("Unsupported backend type: %v", *backendType)
	}
	if err != nil {
		return err
	}
	defer b.Close()

	return b.Dump(os.Stdout, !*dumpJSON)
}

func main() {
	err := _main()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
