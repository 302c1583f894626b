package server

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// webhookRequest is the optional body of a webhook call.
type webhookRequest struct {
	// Reload asks every open page to reload so prose placeholders pick
	// up the fresh values.
	Reload bool `json:"reload"`
}

// handleWebhook drops cached source documents. With a name it drops one
// source's cache, without one every cache.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	secret := s.cfg.Webhook.GetSecret()
	if secret == "" {
		writeJSONError(w, http.StatusNotFound, "webhooks are not configured")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	if !validateSecret(r, secret) && !validateHMACSignature(r, body, secret) {
		s.auditLog(name, r, false, "invalid secret")
		writeJSONError(w, http.StatusUnauthorized, "invalid webhook secret")
		return
	}

	var req webhookRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			s.auditLog(name, r, false, "invalid body")
			writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	if name == "" {
		s.registry.InvalidateAllCaches()
	} else {
		if _, ok := s.registry.Get(name); !ok {
			s.auditLog(name, r, false, "unknown source")
			writeJSONError(w, http.StatusNotFound, "source not found: "+name)
			return
		}
		s.registry.InvalidateCache(name)
	}
	s.auditLog(name, r, true, "")

	if req.Reload {
		s.BroadcastReload("")
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "source": name})
}

// validateSecret checks the X-Webhook-Secret header first, then the
// secret query parameter.
func validateSecret(r *http.Request, expected string) bool {
	provided := r.Header.Get("X-Webhook-Secret")
	if provided == "" {
		provided = r.URL.Query().Get("secret")
	}
	if provided == "" {
		return false
	}
	return secureCompare(provided, expected)
}

// validateHMACSignature checks an X-Webhook-Signature header of the form
// "sha256=<hex>" over the request body.
func validateHMACSignature(r *http.Request, body []byte, secret string) bool {
	signature, ok := strings.CutPrefix(r.Header.Get("X-Webhook-Signature"), "sha256=")
	if !ok {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	computed := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(signature), []byte(computed))
}

func (s *Server) auditLog(sourceName string, r *http.Request, success bool, reason string) {
	if sourceName == "" {
		sourceName = "*"
	}
	fields := []zap.Field{
		zap.String("source", sourceName),
		zap.String("remote", getClientIP(r)),
		zap.Bool("success", success),
	}
	if reason != "" {
		fields = append(fields, zap.String("reason", reason))
	}
	s.logger.Info("webhook", fields...)
}
