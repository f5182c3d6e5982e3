// SPDX-License-Identifier: MIT

package api

import (
	"errors"
	"net/http"

	json "github.com/goccy/go-json"

	"github.com/justinTNT/tsnotfyi-sub002/internal/fault"
)

type errorBody struct {
	Error  string `json:"error"`
	Kind   string `json:"kind,omitempty"`
	Detail string `json:"detail,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// writeFault maps a fault kind onto an HTTP status. Kinds the surface never
// produces (decode failures, backend outages the engine absorbs) collapse
// into 500 so a new kind cannot leak a 200.
func writeFault(w http.ResponseWriter, err error) {
	var maxBytes *http.MaxBytesError
	if errors.As(err, &maxBytes) {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{
			Error: "request body too large",
			Kind:  fault.KindPayloadTooLarge.String(),
		})
		return
	}
	kind := fault.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case fault.KindNotFound:
		status = http.StatusNotFound
	case fault.KindInvalidArgument:
		status = http.StatusBadRequest
	case fault.KindUnavailable, fault.KindBackendUnavailable:
		status = http.StatusServiceUnavailable
	case fault.KindPayloadTooLarge:
		status = http.StatusRequestEntityTooLarge
	case fault.KindGone:
		status = http.StatusGone
	case fault.KindTimedOut:
		status = http.StatusGatewayTimeout
	}
	writeJSON(w, status, errorBody{Error: err.Error(), Kind: kind.String()})
}

// decodeBody reads a JSON request body into dst, translating size-limit
// trips into the payload-too-large kind.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			writeFault(w, err)
			return false
		}
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return false
	}
	return true
}
