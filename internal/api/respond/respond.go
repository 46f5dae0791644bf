// Package respond holds the JSON response helpers shared by the admin API
// handlers: cached payloads with ETags, conditional 304s, and the standard
// error envelope.
package respond

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// ErrorResponse is the error envelope every failing endpoint returns.
type ErrorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Detail  string `json:"detail,omitempty"`
	} `json:"error"`
}

// WriteJSON writes pre-encoded JSON with ETag and cache headers. cacheHit
// only affects the X-Cache debugging header.
func WriteJSON(w http.ResponseWriter, data []byte, etag string, ttl time.Duration, cacheHit bool) {
	h := w.Header()
	h.Set("Content-Type", "application/json")
	h.Set("ETag", etag)
	h.Set("Vary", "Accept-Encoding")
	if cacheHit {
		h.Set("X-Cache", "HIT")
	} else {
		h.Set("X-Cache", "MISS")
	}
	maxAge := int(ttl.Seconds())
	h.Set("Cache-Control",
		fmt.Sprintf("public, max-age=%d, stale-while-revalidate=%d", maxAge, maxAge/2))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// WriteNotModified answers a matching If-None-Match with a bare 304.
func WriteNotModified(w http.ResponseWriter, etag string) {
	w.Header().Set("ETag", etag)
	w.WriteHeader(http.StatusNotModified)
}

// WriteError sends the error envelope, uncacheable.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	var resp ErrorResponse
	resp.Error.Code = code
	resp.Error.Message = message
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

// WriteJSONObject marshals v and writes it with the given status. Used for
// health checks and status responses that bypass the cache.
func WriteJSONObject(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
