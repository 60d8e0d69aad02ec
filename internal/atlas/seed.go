package atlas

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// seedFile is the on-disk layout of a seed file:
//
//	entries:
//	  - service: stt
//	    operation: transcribe
//	    backend: whisper
//	    fallbacks: [openai]
//	    coords: {x: 1, y: 1, z: 0}
//	    cost: 0.2
type seedFile struct {
	Entries []seedEntry `yaml:"entries"`
}

type seedEntry struct {
	Service   string   `yaml:"service"`
	Operation string   `yaml:"operation"`
	Backend   string   `yaml:"backend"`
	Fallbacks []string `yaml:"fallbacks"`
	Coords    Coords   `yaml:"coords"`
	Cost      float64  `yaml:"cost"`
}

// ParseSeed decodes seed entries from YAML.
func ParseSeed(data []byte) ([]Entry, error) {
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing atlas seed: %w", err)
	}
	out := make([]Entry, 0, len(f.Entries))
	for i, se := range f.Entries {
		if se.Service == "" || se.Operation == "" {
			return nil, fmt.Errorf("atlas seed entry %d: service and operation are required", i)
		}
		out = append(out, Entry{
			Service:     se.Service,
			Operation:   se.Operation,
			Backend:     se.Backend,
			Fallbacks:   se.Fallbacks,
			Coords:      se.Coords,
			DynamicCost: se.Cost,
		})
	}
	return out, nil
}

// LoadSeed reads and decodes a seed file.
func LoadSeed(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading atlas seed: %w", err)
	}
	return ParseSeed(data)
}

// Seed upserts every entry into ix.
func (ix *Index) Seed(entries []Entry) error {
	for _, e := range entries {
		if _, _, err := ix.Upsert(e); err != nil {
			return err
		}
	}
	return nil
}
