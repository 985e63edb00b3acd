package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Environment variables consulted by DefaultStrategies.
const (
	EnvCredentialsJSON       = "BRIEFGATE_CREDENTIALS_JSON"
	EnvLegacyCredentialsJSON = "ADOBE_PDF_CREDENTIALS_JSON"
	EnvClientID              = "PDF_SERVICES_CLIENT_ID"
	EnvClientSecret          = "PDF_SERVICES_CLIENT_SECRET"
	EnvLegacyClientID        = "ADOBE_PDF_SERVICES_CLIENT_ID"
	EnvLegacyClientSecret    = "ADOBE_PDF_SERVICES_CLIENT_SECRET"
)

// DefaultFileName is looked up in the user config directory.
const DefaultFileName = "pdfservices-api-credentials.json"

// JSONFile reads the service's credentials JSON download.
type JSONFile struct {
	Label string
	Path  string
}

type credentialsFile struct {
	ClientCredentials *struct {
		ClientID     string `json:"client_id"`
		ClientSecret string `json:"client_secret"`
	} `json:"client_credentials"`
	ServicePrincipal *struct {
		OrganizationID string `json:"organization_id"`
	} `json:"service_principal_credentials"`
}

func (s JSONFile) Name() string { return s.Label }

func (s JSONFile) Lookup(ctx context.Context) (Credentials, error) {
	if s.Path == "" {
		return Credentials{}, ErrNotFound
	}
	data, err := os.ReadFile(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return Credentials{}, fmt.Errorf("%w: no file at %s", ErrNotFound, s.Path)
	}
	if err != nil {
		return Credentials{}, fmt.Errorf("read %s: %w", s.Path, err)
	}

	var f credentialsFile
	if err := json.Unmarshal(data, &f); err != nil {
		return Credentials{}, fmt.Errorf("parse %s: %w", s.Path, err)
	}
	if f.ClientCredentials == nil {
		return Credentials{}, fmt.Errorf("%s must contain object 'client_credentials'", s.Path)
	}
	var missing []string
	id := strings.TrimSpace(f.ClientCredentials.ClientID)
	secret := strings.TrimSpace(f.ClientCredentials.ClientSecret)
	if id == "" {
		missing = append(missing, "client_credentials.client_id")
	}
	if secret == "" {
		missing = append(missing, "client_credentials.client_secret")
	}
	if len(missing) > 0 {
		return Credentials{}, fmt.Errorf("%s missing required keys: %s", s.Path, strings.Join(missing, ", "))
	}

	c := Credentials{ClientID: id, ClientSecret: secret, Source: "json:" + s.Path}
	if f.ServicePrincipal != nil {
		c.OrganizationID = strings.TrimSpace(f.ServicePrincipal.OrganizationID)
	}
	return c, nil
}

// EnvPair reads an id/secret pair from two environment variables. A pair
// with only one half set is an error, not an absence.
type EnvPair struct {
	IDVar     string
	SecretVar string
	Getenv    func(string) string
}

func (s EnvPair) Name() string { return "env:" + s.IDVar + "/" + s.SecretVar }

func (s EnvPair) Lookup(context.Context) (Credentials, error) {
	getenv := s.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	id := strings.TrimSpace(getenv(s.IDVar))
	secret := strings.TrimSpace(getenv(s.SecretVar))
	switch {
	case id != "" && secret != "":
		return Credentials{ClientID: id, ClientSecret: secret, Source: s.Name()}, nil
	case id != "":
		return Credentials{}, fmt.Errorf("%s is set but %s is missing", s.IDVar, s.SecretVar)
	case secret != "":
		return Credentials{}, fmt.Errorf("%s is set but %s is missing", s.SecretVar, s.IDVar)
	default:
		return Credentials{}, ErrNotFound
	}
}

// DefaultPath returns the per-user credentials file location.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "briefgate", DefaultFileName)
}

// DefaultStrategies builds the standard precedence: explicit path, path from
// the environment, default file, primary env pair, legacy env pair. Duplicate
// paths are tried once. getenv may be nil.
func DefaultStrategies(explicitPath string, getenv func(string) string) []Strategy {
	if getenv == nil {
		getenv = os.Getenv
	}
	var out []Strategy
	seen := map[string]bool{}
	addFile := func(label, path string) {
		path = strings.TrimSpace(path)
		if path == "" {
			return
		}
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
		if seen[path] {
			return
		}
		seen[path] = true
		out = append(out, JSONFile{Label: label, Path: path})
	}

	addFile("--credentials", explicitPath)
	addFile(EnvCredentialsJSON, getenv(EnvCredentialsJSON))
	addFile(EnvLegacyCredentialsJSON, getenv(EnvLegacyCredentialsJSON))
	addFile("default", DefaultPath())

	out = append(out,
		EnvPair{IDVar: EnvClientID, SecretVar: EnvClientSecret, Getenv: getenv},
		EnvPair{IDVar: EnvLegacyClientID, SecretVar: EnvLegacyClientSecret, Getenv: getenv},
	)
	return out
}
