package httpapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// csrfSigner issues stateless tokens bound to an hour bucket. A token stays
// valid for the bucket it was issued in and the following one.
type csrfSigner struct {
	secret []byte
	now    func() time.Time
}

func (c *csrfSigner) clock() time.Time {
	if c.now != nil {
		return c.now().UTC()
	}
	return time.Now().UTC()
}

func (c *csrfSigner) tokenForHour(hourBucket int64) string {
	h := hmac.New(sha256.New, c.secret)
	fmt.Fprintf(h, "%d", hourBucket)
	return hex.EncodeToString(h.Sum(nil))
}

func (c *csrfSigner) issue() string {
	return c.tokenForHour(c.clock().Truncate(time.Hour).Unix())
}

func (c *csrfSigner) valid(token string) bool {
	if token == "" {
		return false
	}
	current := c.clock().Truncate(time.Hour).Unix()
	return hmac.Equal([]byte(token), []byte(c.tokenForHour(current))) ||
		hmac.Equal([]byte(token), []byte(c.tokenForHour(current-3600)))
}

// csrfExemptPaths are called before the client can hold a token.
var csrfExemptPaths = []string{
	"/api/v1/auth/login",
}

func (a *API) handleCSRFToken(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"csrf_token": a.csrf.issue(),
	})
}

func (a *API) checkCSRF(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		default:
			next.ServeHTTP(w, r)
			return
		}
		for _, exempt := range csrfExemptPaths {
			if r.URL.Path == exempt {
				next.ServeHTTP(w, r)
				return
			}
		}
		if !a.csrf.valid(strings.TrimSpace(r.Header.Get("X-CSRF-Token"))) {
			writeError(w, http.StatusForbidden, errors.New("missing or invalid CSRF token"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
