// Package config holds the huntflow configuration: session defaults, the
// store location, named datasources and analytics limits.
//
// A configuration file is YAML (.yaml, .yml) or CUE (.cue). Fields left out
// of the file keep the values of Default.
//
// Example (YAML):
//
//	session:
//	  default_variable: _
//	  default_sort_order: ASC
//	  statement_timeout: 30s
//	store:
//	  path: hunt.db
//	datasources:
//	  host-1:
//	    uri: file://telemetry/host-1
//	  edr:
//	    uri: file://exports/edr.log
//	    format: jsonl
//	default_datasource: host-1
//	analytics:
//	  timeout: 1m
//	  allow_exec: false
package config

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/roach88/huntflow/internal/fileio"
	"github.com/roach88/huntflow/internal/stix"
	"github.com/roach88/huntflow/internal/syntax"
)

// Config is the complete huntflow configuration.
type Config struct {
	Session           SessionConfig         `yaml:"session" json:"session"`
	Store             StoreConfig           `yaml:"store" json:"store"`
	Datasources       map[string]Datasource `yaml:"datasources" json:"datasources"`
	DefaultDatasource string                `yaml:"default_datasource" json:"default_datasource"`
	Analytics         AnalyticsConfig       `yaml:"analytics" json:"analytics"`
	STIX              STIXConfig            `yaml:"stix" json:"stix"`
}

// SessionConfig configures the interpreter.
type SessionConfig struct {
	DefaultVariable  string `yaml:"default_variable" json:"default_variable"`
	DefaultSortOrder string `yaml:"default_sort_order" json:"default_sort_order"`
	// StatementTimeout bounds each statement; "0" or empty means no limit.
	StatementTimeout string `yaml:"statement_timeout" json:"statement_timeout"`
}

// StoreConfig locates the SQLite store. An empty path is in-memory.
type StoreConfig struct {
	Path string `yaml:"path" json:"path"`
}

// Datasource is a named datasource locator.
type Datasource struct {
	URI string `yaml:"uri" json:"uri"`
	// Format forces the codec of a file datasource whose extension does not
	// name one.
	Format string `yaml:"format" json:"format"`
}

// AnalyticsConfig configures APPLY.
type AnalyticsConfig struct {
	Timeout   string `yaml:"timeout" json:"timeout"`
	AllowExec bool   `yaml:"allow_exec" json:"allow_exec"`
}

// STIXConfig configures entity handling.
type STIXConfig struct {
	// TimestampAttributes are normalized on ingest and tried in order for
	// timespans and TIMESTAMPED.
	TimestampAttributes []string `yaml:"timestamp_attributes" json:"timestamp_attributes"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Session: SessionConfig{
			DefaultVariable:  syntax.DefaultVariable,
			DefaultSortOrder: string(syntax.Ascending),
			StatementTimeout: "0",
		},
		Datasources: map[string]Datasource{},
		Analytics: AnalyticsConfig{
			Timeout: "5m",
		},
		STIX: STIXConfig{
			TimestampAttributes: slices.Clone(stix.DefaultTimestampAttributes),
		},
	}
}

var variableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validate checks c and returns every problem found, joined.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if !variableName.MatchString(c.Session.DefaultVariable) || syntax.IsKeyword(c.Session.DefaultVariable) {
		add("session.default_variable: %q is not a valid variable name", c.Session.DefaultVariable)
	}
	if _, err := parseSortOrder(c.Session.DefaultSortOrder); err != nil {
		add("session.default_sort_order: %v", err)
	}
	if _, err := parseDuration(c.Session.StatementTimeout); err != nil {
		add("session.statement_timeout: %v", err)
	}
	if _, err := parseDuration(c.Analytics.Timeout); err != nil {
		add("analytics.timeout: %v", err)
	}

	names := make([]string, 0, len(c.Datasources))
	for name := range c.Datasources {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		ds := c.Datasources[name]
		if strings.TrimSpace(ds.URI) == "" {
			add("datasources.%s: uri is required", name)
		} else if !strings.Contains(ds.URI, "://") {
			add("datasources.%s: uri %q has no scheme", name, ds.URI)
		}
		if ds.Format != "" {
			if _, err := fileio.ParseFormat(ds.Format); err != nil {
				add("datasources.%s: %v", name, err)
			}
		}
	}

	for i, attr := range c.STIX.TimestampAttributes {
		if strings.TrimSpace(attr) == "" {
			add("stix.timestamp_attributes[%d]: empty attribute name", i)
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// ValidationError lists the problems of an invalid configuration.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

// Defaults returns the normalizer defaults. c must be valid.
func (c *Config) Defaults() syntax.Defaults {
	order, _ := parseSortOrder(c.Session.DefaultSortOrder)
	return syntax.Defaults{Variable: c.Session.DefaultVariable, SortOrder: order}
}

// StatementTimeout returns the per-statement limit, 0 for none. c must be
// valid.
func (c *Config) StatementTimeout() time.Duration {
	d, _ := parseDuration(c.Session.StatementTimeout)
	return d
}

// AnalyticsTimeout returns the APPLY limit, 0 for none. c must be valid.
func (c *Config) AnalyticsTimeout() time.Duration {
	d, _ := parseDuration(c.Analytics.Timeout)
	return d
}

// DatasourceFormat returns the forced codec of the named datasource.
func (c *Config) DatasourceFormat(name string) (fileio.Format, bool) {
	ds, ok := c.Datasources[name]
	if !ok || ds.Format == "" {
		return "", false
	}
	f, err := fileio.ParseFormat(ds.Format)
	return f, err == nil
}

func parseSortOrder(s string) (syntax.SortOrder, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", string(syntax.Ascending):
		return syntax.Ascending, nil
	case string(syntax.Descending):
		return syntax.Descending, nil
	}
	return "", fmt.Errorf("unknown sort order %q (want ASC or DESC)", s)
}

func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", s)
	}
	return d, nil
}
