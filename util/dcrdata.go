// Copyright (c) 2019 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package util

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"

	"github.com/decred/dcrd/txscript"
	"github.com/decred/dcrdata/v4/api/types"
)

// VerifyAnchor verifies that tx carries an anchoring output for digest by
// asking dcrdata for the transaction outputs.  url must end in /api/tx/.
func VerifyAnchor(url, tx string, digest []byte) error {
	u := url + tx + "/out"
	r, err := http.Get(u)
	if err != nil {
		return fmt.Errorf("HTTP Get: %v", err)
	}
	defer r.Body.Close()

	if r.StatusCode != http.StatusOK {
		body, err := ioutil.ReadAll(r.Body)
		if err != nil {
			return fmt.Errorf("invalid body: %v %v",
				r.StatusCode, body)
		}
		return fmt.Errorf("invalid dcrdata answer: %v %s",
			r.StatusCode, body)
	}

	var txOuts []types.TxOut
	d := json.NewDecoder(r.Body)
	if err := d.Decode(&txOuts); err != nil {
		return err
	}

	nullData := txscript.NullDataTy.String()
	for _, v := range txOuts {
		if v.ScriptPubKeyDecoded.Type != nullData {
			continue
		}
		script, err := hex.DecodeString(v.ScriptPubKeyDecoded.Hex)
		if err != nil {
			return fmt.Errorf("invalid dcrdata script: %v", err)
		}
		// Other null data outputs are allowed, skip them.
		data := ExtractAnchorDigest(script)
		if data == nil || !bytes.Equal(data, digest) {
			continue
		}
		return nil
	}

	return fmt.Errorf("digest not found: tx %v digest %x", tx, digest)
}
