// Package http provides HTTP server and handler implementations.
//
// This file implements utilities for parsing and validating HTTP request data.
// It reduces code duplication by providing reusable functions for JSON body
// decoding, size limiting, and amount parsing shared by all handlers.

package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"

	"colletta/internal/core"
)

// maxRequestBody caps how many bytes of a request body a handler will read.
const maxRequestBody = 1 << 20 // 1 MB

// decodeRequest reads a single JSON object from the request body into dst.
//
// The body is size-limited, a Content-Type header (when present) must name
// application/json, and trailing garbage after the object is rejected.
// The returned error is safe to show to clients.
func decodeRequest(w http.ResponseWriter, r *http.Request, dst any) error {
	if ct := r.Header.Get("Content-Type"); ct != "" {
		mediaType, _, err := mime.ParseMediaType(ct)
		if err != nil || mediaType != "application/json" {
			return fmt.Errorf("unsupported content type %q, expected application/json", ct)
		}
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)

	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		var maxBytesErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxBytesErr):
			return fmt.Errorf("request body exceeds %d bytes", maxBytesErr.Limit)
		case errors.Is(err, io.EOF):
			return errors.New("request body is empty")
		default:
			return fmt.Errorf("malformed JSON: %v", err)
		}
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("request body must contain a single JSON object")
	}

	return nil
}

// parseAmount converts a decimal euro string from a request into cents.
func parseAmount(raw string) (core.Money, error) {
	cents, err := core.ParseDecimalToCents(sanitizeInput(raw))
	if err != nil {
		return core.Money{}, err
	}
	return core.Money{Cents: cents}, nil
}
