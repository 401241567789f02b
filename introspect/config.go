package introspect

import (
	"strings"

	tblsconfig "github.com/k1LoW/tbls/config"
)

// Config is the resolved settings for one introspection run: which tables
// to cover and how to label the connection in generated stubs. The DSN
// itself lives on TblsConfig, reusing the same connection-config shape
// tbls uses rather than inventing a second one.
type Config struct {
	SourceName     string
	ConnectorType  string
	Include        []string
	Exclude        []string
	IncludeViews   bool
	IncludeIndexes bool

	TblsConfig *tblsconfig.Config
}

// DSN returns the resolved database connection string, if any.
func (c Config) DSN() string {
	if c.TblsConfig == nil {
		return ""
	}

	return c.TblsConfig.DSN.URL
}

func (c Config) included(name string) bool {
	for _, pattern := range c.Exclude {
		if matchTablePattern(pattern, name) {
			return false
		}
	}

	if len(c.Include) == 0 {
		return true
	}

	for _, pattern := range c.Include {
		if matchTablePattern(pattern, name) {
			return true
		}
	}

	return false
}

func matchTablePattern(pattern, name string) bool {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return false
	}

	if pattern == "*" {
		return true
	}

	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(name, strings.TrimSuffix(pattern, "*"))
	}

	return pattern == name
}
