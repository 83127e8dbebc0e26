package memory

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Dataset is a YAML description of tables and their rows.
//
//	partitions: 4
//	tables:
//	  - id: 1
//	    name: orders
//	    rows:
//	      o-1: "{...}"
type Dataset struct {
	Partitions int         `yaml:"partitions"`
	Tables     []TableData `yaml:"tables"`
}

// TableData is one table of a Dataset.
type TableData struct {
	TableDef `yaml:",inline"`
	Rows     map[string]string `yaml:"rows"`
}

// ParseDataset decodes a YAML dataset.
func ParseDataset(data []byte) (*Dataset, error) {
	var ds Dataset
	if err := yaml.Unmarshal(data, &ds); err != nil {
		return nil, fmt.Errorf("memory: parse dataset: %w", err)
	}
	seen := make(map[int32]bool, len(ds.Tables))
	for _, t := range ds.Tables {
		if t.Name == "" {
			return nil, fmt.Errorf("memory: table %d has no name", t.ID)
		}
		if seen[t.ID] {
			return nil, fmt.Errorf("memory: duplicate table id %d", t.ID)
		}
		seen[t.ID] = true
	}
	return &ds, nil
}

// LoadDataset reads a YAML dataset file.
func LoadDataset(path string) (*Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("memory: read dataset: %w", err)
	}
	return ParseDataset(data)
}

// NewStore builds a store holding the dataset.
func (ds *Dataset) NewStore() (*Store, error) {
	s := New(ds.Partitions)
	for _, t := range ds.Tables {
		if err := s.CreateTable(t.TableDef); err != nil {
			return nil, err
		}
		for k, v := range t.Rows {
			if err := s.Put(t.ID, k, []byte(v)); err != nil {
				return nil, err
			}
		}
	}
	return s, nil
}
