package secrets

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve_PassthroughForLiteral(t *testing.T) {
	r := NewResolver("", "", "", "")
	v, err := r.Resolve(t.Context(), "plain-value")
	require.NoError(t, err)
	assert.Equal(t, "plain-value", v)
}

func TestResolve_KMSReference(t *testing.T) {
	loginCalls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, req *http.Request) {
		loginCalls++
		w.Write([]byte(`{"access_token":"tok-1","expires_in":3600}`))
	})
	mux.HandleFunc("/secrets/DB_PASSWORD", func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "Bearer tok-1", req.Header.Get("Authorization"))
		w.Write([]byte(`{"value":"s3cr3t"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	r := NewResolver(srv.URL+"/login", srv.URL+"/secrets", "client", "token")
	v, err := r.Resolve(t.Context(), "kms://DB_PASSWORD")
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t", v)

	// Second resolve reuses the cached login token.
	_, err = r.Resolve(t.Context(), "kms://DB_PASSWORD")
	require.NoError(t, err)
	assert.Equal(t, 1, loginCalls)
}

func TestResolve_LoginFailureBubbles(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	r := NewResolver(srv.URL+"/login", srv.URL+"/secrets", "client", "token")
	_, err := r.Resolve(t.Context(), "kms://X")
	require.Error(t, err)
}
