package adapters

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/oriys/skysweep/internal/logging"
	"github.com/oriys/skysweep/internal/sources"
	"github.com/oriys/skysweep/internal/stats"
	"github.com/oriys/skysweep/internal/vault"
)

// TokenHTTPS is the bearer-token credentialed HTTPS fetch adapter.
// Constructed once per site with no background goroutine of its own:
// fetch is a single bounded request/response pair, so there is no
// stopCh/doneCh pair to hold.
type TokenHTTPS struct {
	site  sources.Site
	vault *vault.Vault
	stats *stats.Handle
	http  *http.Client
}

// NewTokenHTTPS validates the site's credential bundle and constructs a
// TokenHTTPS adapter bound to it.
func NewTokenHTTPS(site sources.Site, st *stats.Handle) (*TokenHTTPS, error) {
	if err := site.Credential.Accepts(sources.CredToken, sources.CredLogin); err != nil {
		return nil, err
	}
	return &TokenHTTPS{
		site:  site,
		vault: vault.New(site.TokenBaseDir),
		stats: st,
		http:  &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (t *TokenHTTPS) Name() string   { return t.site.Name }
func (t *TokenHTTPS) Format() string { return "token-https" }

func (t *TokenHTTPS) vaultName() string {
	return vault.Name(t.site.Name, t.site.Credential.Login)
}

// Authenticate consults the vault for a cached token; if absent or
// expired it re-authenticates against the site's token route and
// persists the new token.
func (t *TokenHTTPS) Authenticate(ctx context.Context) (string, error) {
	name := t.vaultName()
	if tok, err := t.vault.RetrieveToken(name); err == nil {
		return tok.Value, nil
	} else if !errors.Is(err, vault.ErrNotFound) {
		return "", &AuthError{Kind: AuthRetrieval, Subject: t.site.Credential.Login, Cause: err}
	}

	body, err := json.Marshal(struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}{Email: t.site.Credential.Login, Password: t.site.Credential.Password})
	if err != nil {
		return "", &AuthError{Kind: AuthInvalid, Subject: name, Cause: err}
	}

	url := t.site.BaseURL + "/" + t.site.Routes.Token
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", &AuthError{Kind: AuthInvalid, Subject: url, Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.http.Do(req)
	if err != nil {
		return "", &AuthError{Kind: AuthHTTP, Subject: url, Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return "", &AuthError{Kind: AuthHTTP, Subject: fmt.Sprintf("%s: status %d", url, resp.StatusCode)}
	}

	var payload struct {
		Token     string `json:"token"`
		ExpiresIn int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", &AuthError{Kind: AuthDecoding, Subject: t.site.Credential.Login, Cause: err}
	}

	tok := &vault.Token{
		Value:     payload.Token,
		Login:     t.site.Credential.Login,
		ExpiresAt: time.Now().Add(time.Duration(payload.ExpiresIn) * time.Second),
	}
	if err := t.vault.StoreToken(name, tok); err != nil {
		return "", &AuthError{Kind: AuthStoring, Subject: name, Cause: err}
	}
	return tok.Value, nil
}

type tokenHTTPSBody struct {
	BeginMillis int64  `json:"begin"`
	EndMillis   int64  `json:"end"`
	Sources     string `json:"sources"`
}

type envelope struct {
	FileName string `json:"fileName"`
	Content  string `json:"content"`
}

// Fetch translates the filter into a site-specific POST body, reads
// back a CSV envelope, rewrites the timestamp column to UNIX seconds,
// and emits the transformed CSV onto out.
func (t *TokenHTTPS) Fetch(ctx context.Context, out chan<- sources.Record, bearer string, args json.RawMessage) error {
	var filter sources.Filter
	if len(args) > 0 {
		if err := json.Unmarshal(args, &filter); err != nil {
			t.stats.Error()
			return fmt.Errorf("adapters: decode filter: %w", err)
		}
	}

	body := tokenHTTPSBody{Sources: "default"}
	if filter.Kind == sources.FilterInterval {
		body.BeginMillis = filter.Begin.UnixMilli()
		body.EndMillis = filter.End.UnixMilli()
	}
	payload, err := json.Marshal(body)
	if err != nil {
		t.stats.Error()
		return fmt.Errorf("adapters: marshal fetch body: %w", err)
	}

	url := t.site.BaseURL + "/" + t.site.Routes.Get
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		t.stats.Error()
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+bearer)

	resp, err := t.http.Do(req)
	if err != nil {
		t.stats.Error()
		return fmt.Errorf("adapters: fetch request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		diag := resp.Header.Get("X-Diagnostic")
		t.stats.Error()
		return fmt.Errorf("adapters: fetch http %d: %s", resp.StatusCode, diag)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.stats.Error()
		return fmt.Errorf("adapters: decode envelope: %w", err)
	}

	transformed, rows, err := rewriteTimestampColumn(env.Content)
	if err != nil {
		t.stats.Error()
		return fmt.Errorf("adapters: rewrite csv: %w", err)
	}

	select {
	case out <- sources.Record(transformed):
	case <-ctx.Done():
		return ctx.Err()
	}
	t.stats.Pkts(int64(rows))
	t.stats.Bytes(int64(len(transformed)))
	logging.Op().Debug("token-https fetch complete", "site", t.site.Name, "rows", rows, "bytes", len(transformed))
	return nil
}

// rewriteTimestampColumn replaces the first column named "timestamp" in
// a CSV document with its 64-bit UNIX-seconds equivalent, returning the
// re-encoded CSV and the number of data rows processed.
func rewriteTimestampColumn(content string) ([]byte, int, error) {
	reader := csv.NewReader(bytes.NewReader([]byte(content)))
	records, err := reader.ReadAll()
	if err != nil {
		return nil, 0, err
	}
	if len(records) == 0 {
		return nil, 0, nil
	}

	tsCol := -1
	for i, h := range records[0] {
		if h == "timestamp" {
			tsCol = i
			break
		}
	}

	if tsCol >= 0 {
		for _, row := range records[1:] {
			if tsCol >= len(row) {
				continue
			}
			parsed, err := time.Parse(time.RFC3339, row[tsCol])
			if err != nil {
				continue
			}
			row[tsCol] = strconv.FormatInt(parsed.Unix(), 10)
		}
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.WriteAll(records); err != nil {
		return nil, 0, err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, 0, err
	}
	return buf.Bytes(), len(records) - 1, nil
}
