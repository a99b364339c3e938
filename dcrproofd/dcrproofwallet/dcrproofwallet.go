// Copyright (c) 2017-2019 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package dcrproofwallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/decred/dcrd/chaincfg"
	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/dcrutil"
	pb "github.com/decred/dcrwallet/rpc/walletrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
)

// Wallet is a dcrwallet gRPC client.  It allocates payment addresses from
// one account and builds signed anchoring transactions funded by that
// account.  Publishing is left to the caller.
type Wallet struct {
	account    uint32
	minconf    int32
	params     *chaincfg.Params
	conn       *grpc.ClientConn
	wallet     pb.WalletServiceClient
	passphrase []byte
}

// BalanceResult contains information about the backing dcrwallet
// account balance connected to by dcrproofd.
type BalanceResult struct {
	Total       int64
	Spendable   int64
	Unconfirmed int64
}

// NextAddress returns the next external address of the account.  The
// address is verified to belong to the active network.
func (w *Wallet) NextAddress(ctx context.Context) (string, error) {
	r, err := w.wallet.NextAddress(ctx, &pb.NextAddressRequest{
		Account:   w.account,
		Kind:      pb.NextAddressRequest_BIP0044_EXTERNAL,
		GapPolicy: pb.NextAddressRequest_GAP_POLICY_WRAP,
	})
	if err != nil {
		return "", err
	}

	addr, err := dcrutil.DecodeAddress(r.Address)
	if err != nil {
		return "", fmt.Errorf("invalid wallet address %v: %v",
			r.Address, err)
	}
	if !addr.IsForNet(w.params) {
		return "", fmt.Errorf("wallet address %v is not for %v",
			r.Address, w.params.Name)
	}

	return addr.EncodeAddress(), nil
}

// Construct creates and signs a transaction that pays nothing to script.
// Inputs and change are chosen by the wallet, as is the fee.
func (w *Wallet) Construct(ctx context.Context, script []byte) ([]byte, error) {
	// Create transaction request.
	constructRequest := &pb.ConstructTransactionRequest{
		SourceAccount:            w.account,
		RequiredConfirmations:    w.minconf,
		FeePerKb:                 0, // let wallet decide the fee
		OutputSelectionAlgorithm: pb.ConstructTransactionRequest_UNSPECIFIED,
		NonChangeOutputs: []*pb.ConstructTransactionRequest_Output{
			{
				Destination: &pb.ConstructTransactionRequest_OutputDestination{
					Script:        script,
					ScriptVersion: 0,
				},
				Amount: 0,
			},
		},
	}
	constructResponse, err := w.wallet.ConstructTransaction(ctx,
		constructRequest)
	if err != nil {
		return nil, err
	}

	// Sign request.
	signRequest := &pb.SignTransactionRequest{
		Passphrase:            w.passphrase,
		SerializedTransaction: constructResponse.UnsignedTransaction,
	}
	signResponse, err := w.wallet.SignTransaction(ctx, signRequest)
	if err != nil {
		return nil, err
	}
	if len(signResponse.Transaction) == 0 {
		return nil, errors.New("wallet returned an empty transaction")
	}

	return signResponse.Transaction, nil
}

// Confirmations returns the number of confirmations of a transaction known
// to the wallet.  Unmined transactions report zero or less.
func (w *Wallet) Confirmations(ctx context.Context, txid string) (int32, error) {
	tx, err := chainhash.NewHashFromStr(txid)
	if err != nil {
		return 0, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Ask how many confirmations we got
	n, err := w.wallet.ConfirmationNotifications(ctx)
	if err != nil {
		return 0, err
	}
	err = n.Send(&pb.ConfirmationNotificationsRequest{
		TxHashes:  [][]byte{tx[:]},
		StopAfter: 0, // We only want one reply
	})
	if err != nil {
		return 0, err
	}
	r, err := n.Recv()
	if err != nil {
		return 0, err
	}
	if len(r.Confirmations) != 1 {
		return 0, fmt.Errorf("invalid reply length: %v",
			len(r.Confirmations))
	}

	// Sanity test confirmations reply
	h, err := chainhash.NewHash(r.Confirmations[0].TxHash)
	if err != nil {
		return 0, err
	}
	if !h.IsEqual(tx) {
		return 0, fmt.Errorf("invalid tx hash: %v", h)
	}

	return r.Confirmations[0].Confirmations, nil
}

// Balance returns balance information from the wallet account.
func (w *Wallet) Balance(ctx context.Context) (*BalanceResult, error) {
	balanceRequest := &pb.BalanceRequest{
		AccountNumber:         w.account,
		RequiredConfirmations: w.minconf,
	}

	balanceResponse, err := w.wallet.Balance(ctx, balanceRequest)
	if err != nil {
		return nil, err
	}

	return &BalanceResult{
		Total:       balanceResponse.Total,
		Spendable:   balanceResponse.Spendable,
		Unconfirmed: balanceResponse.Unconfirmed,
	}, nil
}

// Close shuts down the gRPC connection to the wallet.
func (w *Wallet) Close() {
	w.conn.Close()
}

// getWalletGrpcConnection tries to estabilish a wallet connection. If it fails,
// it keeps retrying to connect until max retry attempts is reached.
func getWalletGrpcConnection(creds credentials.TransportCredentials, host string) (*grpc.ClientConn, error) {
	var (
		maxRetries = 100
		duration   = 5 * time.Second
		conn       *grpc.ClientConn
		err        error
	)

	for retries := 0; ; retries++ {
		if retries == maxRetries {
			return nil, fmt.Errorf("max retries exceeded: %v", err)
		}
		conn, err = grpc.Dial(host, grpc.WithBlock(),
			grpc.WithTransportCredentials(creds),
			grpc.WithTimeout(duration))
		if err == nil {
			return conn, nil
		}

		log.Warnf("Cannot estabilish a dcrwallet connection: %v", err)
		log.Warnf("Retrying... attempt: %v", retries)
	}
}

// New returns a Wallet connected to the dcrwallet at host.  Addresses are
// drawn from account and verified against params.
func New(cert, host string, passphrase []byte, account uint32, params *chaincfg.Params) (*Wallet, error) {
	w := &Wallet{
		account:    account,
		minconf:    1,
		params:     params,
		passphrase: passphrase,
	}

	creds, err := credentials.NewClientTLSFromFile(cert, "")
	if err != nil {
		return nil, err
	}

	log.Infof("Wallet: %v account %v", host, account)
	w.conn, err = getWalletGrpcConnection(creds, host)
	if err != nil {
		return nil, err
	}

	w.wallet = pb.NewWalletServiceClient(w.conn)

	return w, nil
}
