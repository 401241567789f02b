package sqlflow

import (
	"maps"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// VariableResolver builds the merged variable map a pipeline parses against,
// implementing the precedence chain: CLI flags win over profile variables,
// which win over .env entries, which win over the process environment.
// In-pipeline SET statements are layered on top of this by the parser
// itself, since they can only take effect for statements that follow them.
// A name absent from every layer falls through to a script's own
// ${name|default} default, which the parser applies on its own.
type VariableResolver struct {
	CLI     map[string]string
	Profile map[string]string
	DotEnv  map[string]string
	Process map[string]string
}

// NewVariableResolver builds a resolver seeded from the real process
// environment. cli and profile may be nil.
func NewVariableResolver(cli, profile map[string]string) *VariableResolver {
	return &VariableResolver{
		CLI:     cli,
		Profile: profile,
		Process: processEnvVars(),
	}
}

// LoadDotEnv reads a .env file into the resolver's DotEnv layer without
// touching the real process environment, so the precedence chain stays
// explicit instead of relying on load order of os.Setenv calls. A missing
// file is not an error.
func (r *VariableResolver) LoadDotEnv(path string) error {
	if !fileExists(path) {
		return nil
	}

	vars, err := godotenv.Read(path)
	if err != nil {
		return err
	}

	r.DotEnv = vars

	return nil
}

// Resolve merges every layer into a single map, later layers overriding
// earlier ones: process env, then .env, then profile, then CLI.
func (r *VariableResolver) Resolve() map[string]string {
	merged := make(map[string]string)

	maps.Copy(merged, r.Process)
	maps.Copy(merged, r.DotEnv)
	maps.Copy(merged, r.Profile)
	maps.Copy(merged, r.CLI)

	return merged
}

// processEnvVars snapshots os.Environ() into a map.
func processEnvVars() map[string]string {
	env := os.Environ()
	out := make(map[string]string, len(env))

	for _, kv := range env {
		name, value, ok := strings.Cut(kv, "=")
		if ok {
			out[name] = value
		}
	}

	return out
}
