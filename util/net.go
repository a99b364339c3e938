// Copyright (c) 2017-2019 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package util

import (
	"encoding/json"
	"net/http"

	v1 "github.com/decred/dcrproof/api/v1"
)

// RespondWithError returns an HTTP error status to the client along with a
// JSON encoded v1.ErrorReply.
func RespondWithError(w http.ResponseWriter, code int, reason string) {
	RespondWithJSON(w, code, v1.ErrorReply{Reason: reason})
}

// RespondWithJSON encodes payload as JSON and writes it to the client with
// the provided status code.
func RespondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
