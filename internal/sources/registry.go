package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/oriys/skysweep/internal/config"
	"github.com/oriys/skysweep/internal/stats"
)

// ErrUnknownSite is returned when no site with the requested name was
// loaded from configuration.
var ErrUnknownSite = errors.New("sources: unknown site")

// ErrInvalidSite is returned when a site exists but does not support
// the requested capability, or its (format, auth) pair has no adapter.
var ErrInvalidSite = errors.New("sources: invalid site")

// Record is one unit of data flowing out of a Fetchable/Streamable
// adapter — typically a line of CSV or a JSON document.
type Record []byte

// Fetchable is a bounded, single-shot data source.
type Fetchable interface {
	Name() string
	Format() string
	Authenticate(ctx context.Context) (string, error)
	Fetch(ctx context.Context, out chan<- Record, bearer string, args json.RawMessage) error
}

// Streamable is an unbounded data source that runs until its context is
// cancelled.
type Streamable interface {
	Name() string
	Format() string
	Authenticate(ctx context.Context) (string, error)
	Stream(ctx context.Context, out chan<- Record, bearer string, args json.RawMessage) error
}

// Binder constructs adapters for a bound Site. internal/adapters
// implements this so internal/sources never needs to import it,
// keeping the registry free of a dependency on the adapter set it
// dispatches to.
type Binder interface {
	Fetchable(site Site, stats *stats.Handle) (Fetchable, error)
	Streamable(site Site, stats *stats.Handle) (Streamable, error)
}

// Registry loads a versioned sources.hcl document and resolves sites
// to adapters on demand.
type Registry struct {
	sites     map[string]Site
	vaultRoot string
	binder    Binder
}

// NewRegistry builds a Registry from a decoded sources.hcl document,
// validating each site's feature/auth blocks.
func NewRegistry(cfg *config.SourcesConfig, vaultRoot string, binder Binder) (*Registry, error) {
	r := &Registry{
		sites:     make(map[string]Site, len(cfg.Sites)),
		vaultRoot: vaultRoot,
		binder:    binder,
	}

	for _, sb := range cfg.Sites {
		site, err := fromBlock(sb, vaultRoot)
		if err != nil {
			return nil, fmt.Errorf("sources: site %q: %w", sb.Name, err)
		}
		if _, dup := r.sites[site.Name]; dup {
			return nil, fmt.Errorf("sources: duplicate site name %q", site.Name)
		}
		r.sites[site.Name] = site
	}

	return r, nil
}

func fromBlock(sb config.SiteBlock, vaultRoot string) (Site, error) {
	cap, err := ParseCapability(sb.Feature)
	if err != nil {
		return Site{}, err
	}

	var kind Kind
	switch sb.Type {
	case string(KindDrone):
		kind = KindDrone
	case string(KindADSB):
		kind = KindADSB
	default:
		kind = KindInvalid
	}

	site := Site{
		Name:         sb.Name,
		Kind:         kind,
		Format:       sb.Format,
		BaseURL:      sb.BaseURL,
		Capability:   cap,
		HTTPProxy:    sb.Proxy,
		TokenBaseDir: vaultRoot,
	}

	if sb.Routes != nil {
		site.Routes = Routes{Token: sb.Routes.Token, Get: sb.Routes.Get}
	}

	if sb.Auth != nil {
		cred, err := credentialFromBlock(sb.Auth)
		if err != nil {
			return Site{}, err
		}
		site.Credential = cred
	} else {
		site.Credential = CredentialBundle{Kind: CredAnonymous}
	}

	return site, nil
}

func credentialFromBlock(a *config.AuthBlock) (CredentialBundle, error) {
	switch CredentialKind(a.Kind) {
	case CredAnonymous:
		return CredentialBundle{Kind: CredAnonymous}, nil
	case CredAPIKey:
		return CredentialBundle{Kind: CredAPIKey, APIKey: a.APIKey}, nil
	case CredLogin:
		return CredentialBundle{Kind: CredLogin, Login: a.Login, Password: a.Password}, nil
	case CredToken:
		return CredentialBundle{Kind: CredToken, Login: a.Login, Password: a.Password, TokenRoute: a.TokenRoute}, nil
	case CredUserKey:
		return CredentialBundle{Kind: CredUserKey, UserAPIKey: a.APIKey, UserKey: a.UserKey}, nil
	case CredVhost:
		return CredentialBundle{Kind: CredVhost, Vhost: a.Vhost}, nil
	default:
		return CredentialBundle{}, fmt.Errorf("sources: unknown credential kind %q", a.Kind)
	}
}

// Site returns the raw, augmented site descriptor for name.
func (r *Registry) Site(name string) (Site, error) {
	site, ok := r.sites[name]
	if !ok {
		return Site{}, fmt.Errorf("%w: %s", ErrUnknownSite, name)
	}
	return site, nil
}

// AsFetchable resolves name to a Fetchable adapter.
func (r *Registry) AsFetchable(name string, st *stats.Handle) (Fetchable, error) {
	site, ok := r.sites[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSite, name)
	}
	if !site.CanFetch() {
		return nil, fmt.Errorf("%w: %s does not support fetch", ErrInvalidSite, name)
	}
	a, err := r.binder.Fetchable(site, st)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidSite, name, err)
	}
	return a, nil
}

// AsStreamable resolves name to a Streamable adapter.
func (r *Registry) AsStreamable(name string, st *stats.Handle) (Streamable, error) {
	site, ok := r.sites[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSite, name)
	}
	if !site.CanStream() {
		return nil, fmt.Errorf("%w: %s does not support stream", ErrInvalidSite, name)
	}
	a, err := r.binder.Streamable(site, st)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidSite, name, err)
	}
	return a, nil
}

// Names returns every loaded site name, for diagnostics/listing.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.sites))
	for n := range r.sites {
		names = append(names, n)
	}
	return names
}
