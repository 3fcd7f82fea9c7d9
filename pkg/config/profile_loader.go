package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Profile is a deployment-specific configuration profile. A profile never
// overrides a value already set in the environment; Merge fills only the
// fields the environment left empty.
type Profile struct {
	Name string `yaml:"name" json:"name"`

	LedgerDriver string `yaml:"ledger_driver,omitempty" json:"ledger_driver,omitempty"`
	LedgerDSN    string `yaml:"ledger_dsn,omitempty" json:"ledger_dsn,omitempty"`

	StoreKind  string `yaml:"store_kind,omitempty" json:"store_kind,omitempty"`
	StoreDir   string `yaml:"store_dir,omitempty" json:"store_dir,omitempty"`
	S3Bucket   string `yaml:"s3_bucket,omitempty" json:"s3_bucket,omitempty"`
	S3Region   string `yaml:"s3_region,omitempty" json:"s3_region,omitempty"`
	S3Endpoint string `yaml:"s3_endpoint,omitempty" json:"s3_endpoint,omitempty"`
	GCSBucket  string `yaml:"gcs_bucket,omitempty" json:"gcs_bucket,omitempty"`

	GatewayURL    string `yaml:"gateway_url,omitempty" json:"gateway_url,omitempty"`
	GatewayAPIKey string `yaml:"gateway_api_key,omitempty" json:"gateway_api_key,omitempty"`

	RedisAddr string `yaml:"redis_addr,omitempty" json:"redis_addr,omitempty"`

	KeystorePath string `yaml:"keystore_path,omitempty" json:"keystore_path,omitempty"`
	Collection   string `yaml:"collection,omitempty" json:"collection,omitempty"`

	OTLPEndpoint string `yaml:"otlp_endpoint,omitempty" json:"otlp_endpoint,omitempty"`
	LogLevel     string `yaml:"log_level,omitempty" json:"log_level,omitempty"`
}

// LoadProfile loads a deployment profile from a YAML file. A missing name
// field is backfilled from the filename: profile_staging.yaml -> staging.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %s: %w", path, err)
	}

	var profile Profile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile %s: %w", path, err)
	}

	if profile.Name == "" {
		profile.Name = nameFromFilename(path)
	}

	return &profile, nil
}

// LoadAllProfiles loads all profile_*.yaml files from a directory, keyed by
// profile name.
func LoadAllProfiles(dir string) (map[string]*Profile, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "profile_*.yaml"))
	if err != nil {
		return nil, err
	}

	profiles := make(map[string]*Profile, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}

		var profile Profile
		if err := yaml.Unmarshal(data, &profile); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}

		if profile.Name == "" {
			profile.Name = nameFromFilename(path)
		}

		profiles[profile.Name] = &profile
	}

	return profiles, nil
}

// nameFromFilename extracts a profile name: profile_staging.yaml -> staging.
func nameFromFilename(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(strings.TrimPrefix(base, "profile_"), ".yaml")
}

// Merge fills every unset field of c from the profile. Fields already set,
// whether from the environment or a prior merge, keep their value.
func (c *Config) Merge(p *Profile) {
	if p == nil {
		return
	}
	fill(&c.LedgerDriver, p.LedgerDriver)
	fill(&c.LedgerDSN, p.LedgerDSN)
	fill(&c.StoreKind, p.StoreKind)
	fill(&c.StoreDir, p.StoreDir)
	fill(&c.S3Bucket, p.S3Bucket)
	fill(&c.S3Region, p.S3Region)
	fill(&c.S3Endpoint, p.S3Endpoint)
	fill(&c.GCSBucket, p.GCSBucket)
	fill(&c.GatewayURL, p.GatewayURL)
	fill(&c.GatewayAPIKey, p.GatewayAPIKey)
	fill(&c.RedisAddr, p.RedisAddr)
	fill(&c.KeystorePath, p.KeystorePath)
	fill(&c.Collection, p.Collection)
	fill(&c.OTLPEndpoint, p.OTLPEndpoint)
	fill(&c.LogLevel, p.LogLevel)
}

func fill(dst *string, src string) {
	if *dst == "" {
		*dst = src
	}
}
