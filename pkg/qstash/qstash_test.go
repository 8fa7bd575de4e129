package qstash

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	contractx "github.com/tanpawarit/relay-support-router/agent/contract"
)

const destination = "https://relay.example.com/api/internal/metrics"

func newTestClient(t *testing.T, baseURL string, opts ...Option) *Client {
	t.Helper()
	client, err := NewClient(Config{
		URL:               baseURL,
		Token:             "qtoken",
		CurrentSigningKey: "current-key",
		NextSigningKey:    "next-key",
		Retries:           2,
	}, opts...)
	require.NoError(t, err)
	return client
}

func sign(t *testing.T, key, subject string, body []byte, issuedAt time.Time) string {
	t.Helper()
	sum := sha256.Sum256(body)
	claims := signatureClaims{
		Body: base64.URLEncoding.EncodeToString(sum[:]),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "Upstash",
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(5 * time.Minute)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	require.NoError(t, err)
	return token
}

func TestPublishMetricsRecord(t *testing.T) {
	t.Parallel()

	var (
		gotPath    string
		gotAuth    string
		gotRetries string
		gotRecord  contractx.MetricsRecord
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotRetries = r.Header.Get("Upstash-Retries")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotRecord)
		_, _ = w.Write([]byte(`{"messageId":"msg_123"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, WithHTTPClient(server.Client()))
	sink, err := NewMetricsSink(client, destination)
	require.NoError(t, err)

	rec := contractx.MetricsRecord{ID: "m1", HandlerType: "order", Intent: "order", Confidence: 0.68, Successful: true}
	require.NoError(t, sink.AppendMetrics(context.Background(), rec))

	assert.Equal(t, "/v2/publish/"+destination, gotPath)
	assert.Equal(t, "Bearer qtoken", gotAuth)
	assert.Equal(t, "2", gotRetries)
	assert.Equal(t, rec.ID, gotRecord.ID)
	assert.Equal(t, rec.HandlerType, gotRecord.HandlerType)
}

func TestPublishSurfacesUpstreamError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid token"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, WithHTTPClient(server.Client()))
	_, err := client.Publish(context.Background(), destination, map[string]string{"a": "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid token")

	_, err = client.Publish(context.Background(), " ", nil)
	require.Error(t, err)
}

func TestVerifyAcceptsCurrentAndNextKeys(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	client := newTestClient(t, "https://qstash.upstash.io", WithClock(func() time.Time { return now }))
	body := []byte(`{"id":"m1"}`)

	require.NoError(t, client.Verify(sign(t, "current-key", destination, body, now), body, destination))
	require.NoError(t, client.Verify(sign(t, "next-key", destination, body, now), body, destination))
	require.NoError(t, client.Verify(sign(t, "next-key", destination, body, now), body, ""))
}

func TestVerifyRejectsTampering(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	client := newTestClient(t, "https://qstash.upstash.io", WithClock(func() time.Time { return now }))
	body := []byte(`{"id":"m1"}`)

	cases := map[string]error{
		"wrong key":     client.Verify(sign(t, "other-key", destination, body, now), body, destination),
		"wrong body":    client.Verify(sign(t, "current-key", destination, body, now), []byte(`{"id":"m2"}`), destination),
		"wrong subject": client.Verify(sign(t, "current-key", "https://evil.example.com", body, now), body, destination),
		"expired":       client.Verify(sign(t, "current-key", destination, body, now.Add(-time.Hour)), body, destination),
		"missing":       client.Verify("", body, destination),
	}
	for name, err := range cases {
		assert.Truef(t, errors.Is(err, ErrInvalidSignature), "%s: got %v", name, err)
	}
}

func TestNewClientValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := NewClient(Config{Token: "t"})
	require.Error(t, err)
	_, err = NewClient(Config{URL: "https://qstash.upstash.io"})
	require.Error(t, err)

	_, err = NewMetricsSink(nil, destination)
	require.Error(t, err)
	_, err = NewMetricsSink(newTestClient(t, "https://qstash.upstash.io"), "")
	require.Error(t, err)
}
