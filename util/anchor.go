// Copyright (c) 2019 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package util

import (
	"bytes"
	"crypto/sha256"

	"github.com/decred/dcrd/txscript"
	v1 "github.com/decred/dcrproof/api/v1"
)

// anchorDataSize is the size of the data push of an anchoring script.
const anchorDataSize = len(v1.AnchorMarker) + sha256.Size

// AnchorScript returns the null data script that anchors digest:
//  OP_RETURN OP_DATA_40 "DOCPROOF" <digest>
func AnchorScript(digest [sha256.Size]byte) ([]byte, error) {
	data := make([]byte, 0, anchorDataSize)
	data = append(data, v1.AnchorMarker...)
	data = append(data, digest[:]...)
	return txscript.NewScriptBuilder().AddOp(txscript.OP_RETURN).
		AddData(data).Script()
}

// ExtractAnchorDigest returns the digest embedded in an anchoring script or
// nil if script is not one.
func ExtractAnchorDigest(script []byte) []byte {
	// A null script is of the form:
	//  OP_RETURN <optional data>
	//
	// An anchor is a single canonical push of the marker followed by the
	// digest.
	if len(script) != 2+anchorDataSize ||
		script[0] != txscript.OP_RETURN ||
		script[1] != txscript.OP_DATA_40 {
		return nil
	}
	data := script[2:]
	if !bytes.HasPrefix(data, []byte(v1.AnchorMarker)) {
		return nil
	}
	return data[len(v1.AnchorMarker):]
}
