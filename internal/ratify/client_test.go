package ratify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feed-attestor/internal/manifest"
)

func signer(t *testing.T, key string) *manifest.Signer {
	t.Helper()
	id, err := manifest.LoadIdentity(key)
	require.NoError(t, err)
	s, err := manifest.NewSigner(id)
	require.NoError(t, err)
	return s
}

func dualSigned(t *testing.T) Request {
	t.Helper()
	pipeA := signer(t, strings.Repeat("a", 64))
	pipeB := signer(t, strings.Repeat("b", 64))
	hash := crypto.Keccak256Hash([]byte("TEST-STRIKE-MANIFEST-001"))

	sigA, err := pipeA.SignHash(hash)
	require.NoError(t, err)
	sigB, err := pipeB.SignHash(hash)
	require.NoError(t, err)

	req, err := NewRequest(hash, sigA, pipeA.Identity().Address(), sigB, pipeB.Identity().Address())
	require.NoError(t, err)
	return req
}

func TestNewRequestRejectsMismatchedSigner(t *testing.T) {
	pipeA := signer(t, strings.Repeat("a", 64))
	pipeB := signer(t, strings.Repeat("b", 64))
	hash := crypto.Keccak256Hash([]byte("manifest"))

	sigA, err := pipeA.SignHash(hash)
	require.NoError(t, err)

	// pipe A's signature presented as pipe B's
	_, err = NewRequest(hash, sigA, pipeA.Identity().Address(), sigA, pipeB.Identity().Address())
	assert.ErrorContains(t, err, "pipe B")
}

func TestSubmitPostsPayload(t *testing.T) {
	req := dualSigned(t)

	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ratified"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, time.Second, zerolog.Nop())
	resp, err := client.Submit(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, resp.OK())
	assert.JSONEq(t, `{"status":"ratified"}`, string(resp.Body))
	assert.Equal(t, req.ManifestHash, got["manifestHash"])
	assert.Equal(t, req.PipeASignature, got["pipeASignature"])
	assert.Equal(t, req.PipeBAddress, got["pipeBAddress"])
	assert.Len(t, got, 5)
}

func TestSubmitNonOKIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad signature", http.StatusBadRequest)
	}))
	defer srv.Close()

	resp, err := NewClient(srv.URL, time.Second, zerolog.Nop()).Submit(context.Background(), dualSigned(t))
	require.NoError(t, err)
	assert.False(t, resp.OK())
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.JSONEq(t, `"bad signature"`, string(resp.Body))
}

func TestSubmitWithoutURL(t *testing.T) {
	_, err := NewClient("", time.Second, zerolog.Nop()).Submit(context.Background(), Request{})
	assert.Error(t, err)
}
