package gateway

import (
	_ "embed"
	"os"
	"sort"

	"github.com/grovetools/relay/errors"
	"gopkg.in/yaml.v3"
)

//go:embed allowlist.yml
var defaultAllowlist []byte

type allowlistDoc struct {
	Commands []string `yaml:"commands"`
}

// LoadAllowlist returns the command allowlist. When path names an existing
// file it replaces the built-in set entirely; otherwise the embedded default
// is used. Read once at startup; the allowlist never changes at run time.
func LoadAllowlist(path string) ([]string, error) {
	data := defaultAllowlist
	if path != "" {
		if fileData, err := os.ReadFile(path); err == nil {
			data = fileData
		} else if !os.IsNotExist(err) {
			return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to read allowlist "+path)
		}
	}

	var doc allowlistDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to parse allowlist")
	}
	if len(doc.Commands) == 0 {
		return nil, errors.ConfigInvalid("allowlist contains no commands")
	}

	// Deduplicate and sort for a stable enumeration.
	seen := make(map[string]struct{}, len(doc.Commands))
	out := make([]string, 0, len(doc.Commands))
	for _, cmd := range doc.Commands {
		if _, dup := seen[cmd]; dup {
			continue
		}
		seen[cmd] = struct{}{}
		out = append(out, cmd)
	}
	sort.Strings(out)
	return out, nil
}
