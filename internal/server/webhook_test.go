package server

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/livetemplate/blockdown/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func sign(secret, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func webhookEnv(t *testing.T, secret string, opts ...envOption) *testEnv {
	t.Helper()
	opts = append([]envOption{
		withRegistry(t, map[string]config.SourceConfig{
			"fee": {Type: "static", Value: "0.01 ETH", Cache: &config.CacheConfig{TTL: "1h"}},
		}),
		func(o *Options) { o.Config.Webhook.Secret = secret },
	}, opts...)
	return newTestEnv(t, map[string]string{"fees.md": "Fee: {{fee}}"}, opts...)
}

func postWebhook(t *testing.T, env *testEnv, path, body string, header map[string]string) int {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, env.ts.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	return resp.StatusCode
}

func TestWebhookAuthentication(t *testing.T) {
	env := webhookEnv(t, "s3cret")

	tests := []struct {
		name   string
		path   string
		body   string
		header map[string]string
		want   int
	}{
		{"no secret", "/webhook/sources/fee", "", nil, http.StatusUnauthorized},
		{"wrong secret", "/webhook/sources/fee", "", map[string]string{"X-Webhook-Secret": "nope"}, http.StatusUnauthorized},
		{"header secret", "/webhook/sources/fee", "", map[string]string{"X-Webhook-Secret": "s3cret"}, http.StatusOK},
		{"query secret", "/webhook/sources/fee?secret=s3cret", "", nil, http.StatusOK},
		{"hmac signature", "/webhook/sources/fee", `{"reload":false}`, map[string]string{"X-Webhook-Signature": sign("s3cret", `{"reload":false}`)}, http.StatusOK},
		{"bad signature", "/webhook/sources/fee", `{}`, map[string]string{"X-Webhook-Signature": sign("other", `{}`)}, http.StatusUnauthorized},
		{"all sources", "/webhook/sources", "", map[string]string{"X-Webhook-Secret": "s3cret"}, http.StatusOK},
		{"unknown source", "/webhook/sources/gas", "", map[string]string{"X-Webhook-Secret": "s3cret"}, http.StatusNotFound},
		{"invalid body", "/webhook/sources/fee", "{", map[string]string{"X-Webhook-Secret": "s3cret"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, postWebhook(t, env, tt.path, tt.body, tt.header))
		})
	}
}

func TestWebhookDisabledWithoutSecret(t *testing.T) {
	env := webhookEnv(t, "")
	assert.Equal(t, http.StatusNotFound, postWebhook(t, env, "/webhook/sources/fee", "", map[string]string{"X-Webhook-Secret": ""}))
}

func TestWebhookAuditLogAndReload(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	env := webhookEnv(t, "s3cret", func(o *Options) { o.Logger = zap.New(core) })

	conn := dial(t, env, "/ws/pages/fees")
	defer conn.Close()
	require.Eventually(t, func() bool { return env.srv.hub.len() == 1 }, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, http.StatusOK, postWebhook(t, env, "/webhook/sources/fee", `{"reload":true}`, map[string]string{"X-Webhook-Secret": "s3cret"}))

	entries := logs.FilterMessage("webhook").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "fee", fields["source"])
	assert.Equal(t, true, fields["success"])

	readUntil(t, conn, func(m serverMessage) bool { return m.Type == msgReload })
}

func TestValidateHMACSignature(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/", nil)
	assert.False(t, validateHMACSignature(r, []byte("x"), "k"), "missing header")

	r.Header.Set("X-Webhook-Signature", strings.TrimPrefix(sign("k", "x"), "sha256="))
	assert.False(t, validateHMACSignature(r, []byte("x"), "k"), "missing prefix")

	r.Header.Set("X-Webhook-Signature", sign("k", "x"))
	assert.True(t, validateHMACSignature(r, []byte("x"), "k"))
	assert.False(t, validateHMACSignature(r, []byte("y"), "k"))
}

