// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/holomush/accounts/internal/auth"
)

type errorResponse struct {
	Error string `json:"error"`
}

// fieldErrorBody is one entry of a 400 validation response.
type fieldErrorBody struct {
	Type     string `json:"type"`
	Msg      string `json:"msg"`
	Path     string `json:"path"`
	Location string `json:"location"`
}

type validationResponse struct {
	Errors []fieldErrorBody `json:"errors"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck // headers are sent; nothing useful to do on a write error
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeValidationErrors(w http.ResponseWriter, verr *auth.ValidationError) {
	body := validationResponse{Errors: make([]fieldErrorBody, 0, len(verr.Fields))}
	for _, f := range verr.Fields {
		body.Errors = append(body.Errors, fieldErrorBody{
			Type:     "field",
			Msg:      f.Message,
			Path:     f.Field,
			Location: "body",
		})
	}
	writeJSON(w, http.StatusBadRequest, body)
}

// decodeBody reads a single JSON object into dst. On failure it writes the
// 400 response and returns false. An empty body decodes as an empty object so
// missing fields surface as validation errors.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return true
		}
		writeError(w, http.StatusBadRequest, MsgInvalidBody)
		return false
	}
	if dec.More() {
		writeError(w, http.StatusBadRequest, MsgInvalidBody)
		return false
	}
	return true
}
