package config

import (
	"fmt"
	"os"
	"strings"

	"babelbot/internal/language"

	"gopkg.in/yaml.v3"
)

// pairsFile is the schema of the optional YAML route file:
//
//	pairs:
//	  - source: en
//	    target: fr
//	    model: Helsinki-NLP/opus-mt-en-fr
type pairsFile struct {
	Pairs []pairEntry `yaml:"pairs"`
}

type pairEntry struct {
	Source string `yaml:"source"`
	Target string `yaml:"target"`
	Model  string `yaml:"model"`
}

// LoadPairsFile reads extra translation routes from a YAML file. Entries are
// returned keyed "src->tgt" with normalized codes; a malformed entry fails
// the whole load so a typo cannot silently drop a route.
func LoadPairsFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read pairs file %s: %w", path, err)
	}

	var pf pairsFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("cannot parse pairs file %s: %w", path, err)
	}

	pairs := make(map[string]string, len(pf.Pairs))
	for i, entry := range pf.Pairs {
		src := language.Normalize(entry.Source)
		tgt := language.Normalize(entry.Target)
		if !language.IsValidCode(src) || !language.IsValidCode(tgt) {
			return nil, fmt.Errorf("pairs file %s: entry %d has invalid codes %q->%q", path, i, entry.Source, entry.Target)
		}
		if strings.TrimSpace(entry.Model) == "" {
			return nil, fmt.Errorf("pairs file %s: entry %d (%s->%s) is missing a model ID", path, i, src, tgt)
		}
		pairs[src+"->"+tgt] = strings.TrimSpace(entry.Model)
	}
	return pairs, nil
}
