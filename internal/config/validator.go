package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationContext specifies what configuration is required
type ValidationContext string

const (
	// ValidationContextExtract - harvest extract needs repositories, credentials and storage
	ValidationContextExtract ValidationContext = "extract"
	// ValidationContextExport - harvest export needs storage and Neo4j
	ValidationContextExport ValidationContext = "export"
	// ValidationContextStatus - harvest status needs storage only
	ValidationContextStatus ValidationContext = "status"
)

// ValidationResult holds validation results
type ValidationResult struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

// AddError adds an error to the validation result
func (vr *ValidationResult) AddError(format string, args ...interface{}) {
	vr.Valid = false
	vr.Errors = append(vr.Errors, fmt.Sprintf(format, args...))
}

// AddWarning adds a warning to the validation result
func (vr *ValidationResult) AddWarning(format string, args ...interface{}) {
	vr.Warnings = append(vr.Warnings, fmt.Sprintf(format, args...))
}

// HasErrors returns true if there are any errors
func (vr *ValidationResult) HasErrors() bool {
	return !vr.Valid || len(vr.Errors) > 0
}

// Error returns a formatted error message
func (vr *ValidationResult) Error() string {
	if !vr.HasErrors() {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")
	for _, err := range vr.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err))
	}
	return sb.String()
}

// Validate validates configuration for the given context
func (c *Config) Validate(ctx ValidationContext) *ValidationResult {
	result := &ValidationResult{Valid: true}

	c.validateStorage(result)

	switch ctx {
	case ValidationContextExtract:
		c.validateRepositories(result)
		c.validateExtract(result)
		if c.Extract.Backend != "local" {
			c.validateGitHub(result)
		}
	case ValidationContextExport:
		c.validateNeo4j(result)
	}

	return result
}

func (c *Config) validateRepositories(result *ValidationResult) {
	urls := c.RepositoryURLs()
	if len(urls) == 0 {
		result.AddError("no repository configured: pass a URL or set repository in the config file")
		return
	}
	for _, u := range urls {
		if _, _, err := ParseRepositoryURL(u); err != nil {
			result.AddError("%v", err)
		}
	}
}

func (c *Config) validateGitHub(result *ValidationResult) {
	if _, err := c.Tokens(); err != nil {
		result.AddError("%v", err)
	}
	if c.GitHub.RateLimit < 0 {
		result.AddError("github.rate_limit must not be negative (got %v)", c.GitHub.RateLimit)
	}
	if c.GitHub.RateLimit == 0 {
		result.AddWarning("github.rate_limit is 0, requests are not throttled client-side")
	}
	if c.GitHub.BaseURL != "" {
		if _, err := url.Parse(c.GitHub.BaseURL); err != nil {
			result.AddError("github.base_url is invalid: %v", err)
		}
	}
}

func (c *Config) validateExtract(result *ValidationResult) {
	switch c.Extract.Backend {
	case "github", "local":
	default:
		result.AddError("extract.backend must be github or local (got %q)", c.Extract.Backend)
	}
	if c.Extract.Backend == "local" && c.Extract.CloneDir == "" {
		result.AddError("extract.clone_dir is required for the local backend")
	}
	if c.Extract.ParallelSources < 1 {
		result.AddError("extract.parallel_sources must be at least 1 (got %d)", c.Extract.ParallelSources)
	}
}

func (c *Config) validateStorage(result *ValidationResult) {
	switch c.Storage.Type {
	case "sqlite":
		if c.Storage.LocalPath == "" {
			result.AddError("storage.local_path is required for sqlite storage")
		}
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			result.AddError("POSTGRES_DSN is required for postgres storage")
		}
	default:
		result.AddError("storage.type must be sqlite or postgres (got %q)", c.Storage.Type)
	}
}

func (c *Config) validateNeo4j(result *ValidationResult) {
	if c.Neo4j.URI == "" {
		result.AddError("NEO4J_URI is required but not set")
	} else if _, err := url.Parse(c.Neo4j.URI); err != nil {
		result.AddError("NEO4J_URI is invalid: %v", err)
	}
	if c.Neo4j.User == "" {
		result.AddError("NEO4J_USER is required but not set")
	}
	if c.Neo4j.Password == "" {
		result.AddError("NEO4J_PASSWORD is required but not set. Set it via environment variable or .env file.")
	}
}
