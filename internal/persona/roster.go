package persona

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed roster.yaml
var builtinRosterYAML []byte

// DefaultVariantID is the roster variant loaded when nothing else is picked.
const DefaultVariantID = "baseline-v3"

type rosterFile struct {
	Rosters []Roster `yaml:"rosters"`
}

// BuiltinRosters decodes the compiled-in roster set. Panics on a corrupt
// embed since that is a build defect, not a runtime condition.
func BuiltinRosters() []Roster {
	rosters, err := decodeRosters(builtinRosterYAML)
	if err != nil {
		panic(fmt.Sprintf("builtin roster is invalid: %v", err))
	}
	return rosters
}

// LoadDir reads every .yaml/.yml roster file under dir. Missing dir is not
// an error; the caller falls back to the builtin set. Later files win on
// variant_id collisions.
func LoadDir(dir string) ([]Roster, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading roster dir: %w", err)
	}

	var rosters []Roster
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("reading roster %s: %w", name, err)
		}
		decoded, err := decodeRosters(data)
		if err != nil {
			return nil, fmt.Errorf("parsing roster %s: %w", name, err)
		}
		rosters = append(rosters, decoded...)
	}
	return rosters, nil
}

func decodeRosters(data []byte) ([]Roster, error) {
	var file rosterFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	for i := range file.Rosters {
		roster := &file.Rosters[i]
		if roster.VariantID == "" {
			return nil, fmt.Errorf("roster %d missing variant_id", i)
		}
		seen := make(map[string]bool, len(roster.Personas))
		for j := range roster.Personas {
			p := &roster.Personas[j]
			if p.ID == "" {
				return nil, fmt.Errorf("roster %s: persona %d missing id", roster.VariantID, j)
			}
			if seen[p.ID] {
				return nil, fmt.Errorf("roster %s: duplicate persona id %s", roster.VariantID, p.ID)
			}
			seen[p.ID] = true
			p.normalize()
		}
	}
	return file.Rosters, nil
}
