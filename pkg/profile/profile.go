// Package profile loads the region → ServerProfile table and resolves a
// (region, bundle) pair to one immutable ServerProfile, the way
// pkg/connector/config.go loads its network config from a go:embed default.
package profile

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/lanternkey/astool/pkg/asterrors"
)

//go:embed regions.yaml
var embeddedRegions string

// ServerProfile is immutable once loaded.
type ServerProfile struct {
	Region         string   `yaml:"-"`
	APIRoot        string   `yaml:"api_root"`
	UserAgent      string   `yaml:"user_agent"`
	RSAPublicKey   string   `yaml:"rsa_public_key_pem"`
	BootstrapKey   string   `yaml:"bootstrap_key_hex"`
	MixKeysHex     []string `yaml:"mix_keys_hex"`
	MasterKeysHex  []string `yaml:"master_keys_hex"`
	BundleVersion  string   `yaml:"bundle_version"`
	PrimaryLang    string   `yaml:"primary_language"`
	ExtraLanguages []string `yaml:"extra_languages,omitempty"`
}

// regionsFile is the embedded/overriding YAML document shape: a map from
// region name to an ordered list of profiles.
type regionsFile struct {
	Regions map[string][]ServerProfile `yaml:"regions"`
}

// Table holds every region's ordered ServerProfile list.
type Table struct {
	regions map[string][]ServerProfile
}

// LoadEmbedded parses the bundled default region table.
func LoadEmbedded() (*Table, error) {
	return parseTable([]byte(embeddedRegions))
}

// LoadOverride parses a region table from raw YAML bytes, for the
// $ASTOOL_REGION_CONFIG override path.
func LoadOverride(raw []byte) (*Table, error) {
	return parseTable(raw)
}

func parseTable(raw []byte) (*Table, error) {
	var f regionsFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("profile: parse region table: %w", err)
	}
	for region, profiles := range f.Regions {
		for i := range profiles {
			profiles[i].Region = region
		}
	}
	return &Table{regions: f.Regions}, nil
}

// Resolve picks the ServerProfile for region and an optional pinned bundle
// version. With no bundle pin, it picks the profile with the greatest
// bundle version under VerCmp; with a pin, it requires an exact match.
func (t *Table) Resolve(region, bundle string) (*ServerProfile, error) {
	profiles, ok := t.regions[region]
	if !ok || len(profiles) == 0 {
		return nil, asterrors.New(asterrors.ConfigNotFound, fmt.Sprintf("no profiles for region %q", region))
	}
	if bundle != "" {
		for i := range profiles {
			if profiles[i].BundleVersion == bundle {
				p := profiles[i]
				return &p, nil
			}
		}
		return nil, asterrors.New(asterrors.ConfigNotFound, fmt.Sprintf("no profile for region %q pinned to bundle %q", region, bundle))
	}
	best := profiles[0]
	for _, p := range profiles[1:] {
		if VerCmp(p.BundleVersion, best.BundleVersion) > 0 {
			best = p
		}
	}
	return &best, nil
}
