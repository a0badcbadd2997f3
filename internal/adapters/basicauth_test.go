package adapters

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oriys/skysweep/internal/sources"
	"github.com/oriys/skysweep/internal/stats"
	"github.com/stretchr/testify/require"
)

func TestBasicAuthStreamDedupsRepeatedTime(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		json.NewEncoder(w).Encode(map[string]string{"time": "fixed-time", "value": "x"})
	}))
	defer srv.Close()

	site := testSite("basic-https", sources.CredentialBundle{Kind: sources.CredAnonymous}, srv.URL, t.TempDir())

	a := stats.New(nil)
	defer a.Exit()
	h := a.NewHandle("site1")

	adp, err := NewBasicAuth(site, h, nil, nil)
	require.NoError(t, err)

	filter := sources.Filter{Kind: sources.FilterStream, StreamDuration: 150 * time.Millisecond}
	args, _ := json.Marshal(filter)

	out := make(chan sources.Record, 64)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	go func() {
		for range out {
		}
	}()

	err = adp.Stream(ctx, out, "", args)
	require.NoError(t, err)
	close(out)

	ctx2, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	counters, err := h.Get(ctx2)
	require.NoError(t, err)
	require.GreaterOrEqual(t, counters.Hits, int64(1))
	require.GreaterOrEqual(t, counters.Miss, int64(1))
	require.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(2))
}

func TestBasicAuthRejectsTokenCredential(t *testing.T) {
	site := testSite("basic-https", sources.CredentialBundle{Kind: sources.CredToken}, "https://example.test", t.TempDir())
	_, err := NewBasicAuth(site, nil, nil, nil)
	require.Error(t, err)
}
