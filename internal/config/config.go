// Package config decodes the three HCL documents the engine is started
// with: sources.hcl (site descriptors), engine.hcl (runtime home and
// storage layout), and process-data.hcl (encounter calculator inputs).
// The HCL grammar itself is an external collaborator — operators are
// free to hand-author or generate these files however they like — but
// decoding them into typed Go values is ours to own.
package config

import (
	"fmt"

	"github.com/hashicorp/hcl/v2/hclsimple"
)

// SourcesVersion is the only sources.hcl schema version this engine
// understands. A mismatch aborts startup.
const SourcesVersion = 4

// EngineVersion is the only engine.hcl schema version understood.
const EngineVersion = 2

// SourcesConfig is the top-level decode target for sources.hcl.
type SourcesConfig struct {
	Version int         `hcl:"version"`
	Sites   []SiteBlock `hcl:"site,block"`
}

// SiteBlock is one `site "name" { ... }` block.
type SiteBlock struct {
	Name    string       `hcl:"name,label"`
	Feature string       `hcl:"feature"` // fetch | stream | both
	Type    string       `hcl:"type"`    // data kind: drone | ads-b
	Format  string       `hcl:"format"`  // wire format tag, selects an adapter
	BaseURL string       `hcl:"base_url"`
	Auth    *AuthBlock   `hcl:"auth,block"`
	Routes  *RoutesBlock `hcl:"routes,block"`
	Proxy   string       `hcl:"http_proxy,optional"`
}

// AuthBlock carries every credential-bundle shape the adapters accept;
// Kind selects the concrete CredentialBundle variant, and only the
// fields that variant uses are read (see internal/sources).
type AuthBlock struct {
	Kind       string `hcl:"kind"` // anonymous | api_key | login | token | user_key | vhost
	APIKey     string `hcl:"api_key,optional"`
	UserKey    string `hcl:"user_key,optional"`
	Login      string `hcl:"login,optional"`
	Password   string `hcl:"password,optional"`
	TokenRoute string `hcl:"token_route,optional"`
	Vhost      string `hcl:"vhost,optional"`
}

// RoutesBlock names the relative paths used by fetch/stream adapters.
type RoutesBlock struct {
	Token string `hcl:"token,optional"`
	Get   string `hcl:"get,optional"`
}

// LoadSources decodes and validates sources.hcl.
func LoadSources(path string) (*SourcesConfig, error) {
	var cfg SourcesConfig
	if err := hclsimple.DecodeFile(path, nil, &cfg); err != nil {
		return nil, fmt.Errorf("decode sources config %s: %w", path, err)
	}
	if cfg.Version != SourcesVersion {
		return nil, fmt.Errorf("sources config %s: unsupported version %d (want %d)", path, cfg.Version, SourcesVersion)
	}
	return &cfg, nil
}

// EngineConfig is the decode target for engine.hcl.
type EngineConfig struct {
	Version int           `hcl:"version"`
	Basedir string        `hcl:"basedir"`
	Storage *StorageBlock `hcl:"storage,block"`
}

// StorageBlock names the root of the job output tree.
type StorageBlock struct {
	Root string `hcl:"root,optional"`
}

// LoadEngine decodes and validates engine.hcl.
func LoadEngine(path string) (*EngineConfig, error) {
	var cfg EngineConfig
	if err := hclsimple.DecodeFile(path, nil, &cfg); err != nil {
		return nil, fmt.Errorf("decode engine config %s: %w", path, err)
	}
	if cfg.Version != EngineVersion {
		return nil, fmt.Errorf("engine config %s: unsupported version %d (want %d)", path, cfg.Version, EngineVersion)
	}
	return &cfg, nil
}

// ProcessDataConfig is the decode target for process-data.hcl, consumed
// by the encounter calculator.
type ProcessDataConfig struct {
	Version   int             `hcl:"version"`
	Datalake  string          `hcl:"datalake"`
	DB        DBBlock         `hcl:"db,block"`
	Distances *DistancesBlock `hcl:"distances,block"`
}

// DBBlock is the Postgres connection the calculator runs SQL stages
// against.
type DBBlock struct {
	URL      string `hcl:"url,optional"`
	Database string `hcl:"database"`
	User     string `hcl:"user"`
	Password string `hcl:"password"`
}

// DistancesBlock carries the proximity envelope defaults:
// Threshold is the vertical/horizontal proximity in metres (default
// 5500), Factor converts nautical miles to degrees of latitude
// (default 1.852/111.111).
type DistancesBlock struct {
	Threshold float64 `hcl:"threshold,optional"`
	Factor    float64 `hcl:"factor,optional"`
}

// LoadProcessData decodes process-data.hcl and fills in defaults for
// an absent distances block.
func LoadProcessData(path string) (*ProcessDataConfig, error) {
	var cfg ProcessDataConfig
	if err := hclsimple.DecodeFile(path, nil, &cfg); err != nil {
		return nil, fmt.Errorf("decode process-data config %s: %w", path, err)
	}
	if cfg.Distances == nil {
		cfg.Distances = &DistancesBlock{}
	}
	if cfg.Distances.Threshold == 0 {
		cfg.Distances.Threshold = 5500
	}
	if cfg.Distances.Factor == 0 {
		cfg.Distances.Factor = 1.852 / 111.111
	}
	return &cfg, nil
}
