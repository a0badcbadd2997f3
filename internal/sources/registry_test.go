package sources

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/oriys/skysweep/internal/config"
	"github.com/oriys/skysweep/internal/stats"
	"github.com/stretchr/testify/require"
)

type fakeAdapter struct{ name, format string }

func (f *fakeAdapter) Name() string   { return f.name }
func (f *fakeAdapter) Format() string { return f.format }
func (f *fakeAdapter) Authenticate(context.Context) (string, error) {
	return "", nil
}
func (f *fakeAdapter) Fetch(context.Context, chan<- Record, string, json.RawMessage) error {
	return nil
}
func (f *fakeAdapter) Stream(context.Context, chan<- Record, string, json.RawMessage) error {
	return nil
}

type fakeBinder struct{}

func (fakeBinder) Fetchable(site Site, _ *stats.Handle) (Fetchable, error) {
	return &fakeAdapter{name: site.Name, format: site.Format}, nil
}
func (fakeBinder) Streamable(site Site, _ *stats.Handle) (Streamable, error) {
	return &fakeAdapter{name: site.Name, format: site.Format}, nil
}

func buildRegistry(t *testing.T) *Registry {
	t.Helper()
	cfg := &config.SourcesConfig{
		Version: 4,
		Sites: []config.SiteBlock{
			{
				Name:    "fetch_only",
				Feature: "fetch",
				Type:    "ads-b",
				Format:  "token-https",
				BaseURL: "https://example.test",
				Auth:    &config.AuthBlock{Kind: "token", Login: "alice", Password: "secret", TokenRoute: "auth"},
				Routes:  &config.RoutesBlock{Token: "auth", Get: "states"},
			},
			{
				Name:    "stream_only",
				Feature: "stream",
				Type:    "drone",
				Format:  "basic-https",
				BaseURL: "https://stream.test",
			},
		},
	}
	reg, err := NewRegistry(cfg, t.TempDir(), fakeBinder{})
	require.NoError(t, err)
	return reg
}

func TestAsFetchableRejectsStreamOnlyCapability(t *testing.T) {
	reg := buildRegistry(t)
	_, err := reg.AsFetchable("stream_only", nil)
	require.ErrorIs(t, err, ErrInvalidSite)
}

func TestAsStreamableRejectsFetchOnlyCapability(t *testing.T) {
	reg := buildRegistry(t)
	_, err := reg.AsStreamable("fetch_only", nil)
	require.ErrorIs(t, err, ErrInvalidSite)
}

func TestUnknownSite(t *testing.T) {
	reg := buildRegistry(t)
	_, err := reg.AsFetchable("nope", nil)
	require.ErrorIs(t, err, ErrUnknownSite)
}

func TestMatchingCapabilityResolves(t *testing.T) {
	reg := buildRegistry(t)
	f, err := reg.AsFetchable("fetch_only", nil)
	require.NoError(t, err)
	require.Equal(t, "fetch_only", f.Name())

	s, err := reg.AsStreamable("stream_only", nil)
	require.NoError(t, err)
	require.Equal(t, "stream_only", s.Name())
}

func TestAnonymousCredentialDefault(t *testing.T) {
	reg := buildRegistry(t)
	site, err := reg.Site("stream_only")
	require.NoError(t, err)
	require.Equal(t, CredAnonymous, site.Credential.Kind)
}
