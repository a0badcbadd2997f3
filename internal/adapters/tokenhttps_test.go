package adapters

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/oriys/skysweep/internal/sources"
	"github.com/oriys/skysweep/internal/stats"
	"github.com/stretchr/testify/require"
)

func testSite(format string, cred sources.CredentialBundle, baseURL, vaultDir string) sources.Site {
	return sources.Site{
		Name:         "site1",
		Format:       format,
		BaseURL:      baseURL,
		Credential:   cred,
		Routes:       sources.Routes{Token: "auth", Get: "states"},
		Capability:   sources.CapBoth,
		TokenBaseDir: vaultDir,
	}
}

func TestRewriteTimestampColumn(t *testing.T) {
	csv := "timestamp,value\n2024-01-02T03:04:05Z,42\n"
	out, rows, err := rewriteTimestampColumn(csv)
	require.NoError(t, err)
	require.Equal(t, 1, rows)
	require.Contains(t, string(out), "value")
	require.NotContains(t, string(out), "2024-01-02T03:04:05Z")
}

func TestTokenHTTPSAuthenticateAndFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth":
			json.NewEncoder(w).Encode(map[string]any{"token": "tok-1", "expires_in": 3600})
		case "/states":
			require.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
			json.NewEncoder(w).Encode(map[string]string{
				"fileName": "x.csv",
				"content":  "timestamp,alt\n2024-01-02T03:04:05Z,100\n",
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	site := testSite("token-https", sources.CredentialBundle{Kind: sources.CredToken, Login: "alice", Password: "secret", TokenRoute: "auth"}, srv.URL, t.TempDir())

	a := stats.New(nil)
	defer a.Exit()
	h := a.NewHandle("site1")

	adp, err := NewTokenHTTPS(site, h)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	bearer, err := adp.Authenticate(ctx)
	require.NoError(t, err)
	require.Equal(t, "tok-1", bearer)

	// second call should hit the vault, not re-authenticate.
	bearer2, err := adp.Authenticate(ctx)
	require.NoError(t, err)
	require.Equal(t, bearer, bearer2)

	out := make(chan sources.Record, 1)
	err = adp.Fetch(ctx, out, bearer, nil)
	require.NoError(t, err)

	rec := <-out
	require.Contains(t, string(rec), "alt")
	require.NotContains(t, string(rec), "2024-01-02T03:04:05Z")
}

func TestTokenHTTPSRejectsWrongCredential(t *testing.T) {
	site := testSite("token-https", sources.CredentialBundle{Kind: sources.CredAPIKey}, "https://example.test", t.TempDir())
	_, err := NewTokenHTTPS(site, nil)
	require.Error(t, err)
}
