package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"paramforge/criterion"
)

// criteriaFile is the CLI-local sidecar format for declaring selection
// criteria outside of structure.xml/domains.xml: the XML dialects cover
// the structure and the domains, but criteria declaration is a direct
// Go API call (criterion.Registry.Register), so a standalone process
// needs some textual form to seed them from. YAML over a bespoke XML
// schema because gopkg.in/yaml.v3 is already here (bootconfig) and
// criteria declarations carry none of the checksum machinery the
// structure/domains files do.
type criteriaFile struct {
	Criteria []criteriaEntry `yaml:"criteria"`
}

type criteriaEntry struct {
	Name   string              `yaml:"name"`
	Kind   string              `yaml:"kind"`
	Values []criteriaValueYAML `yaml:"values"`
}

// criteriaValueYAML is one value of a criteriaEntry, kept as a YAML
// sequence rather than a mapping so declaration order survives into
// criterion.ValueEntry.
type criteriaValueYAML struct {
	Literal string `yaml:"literal"`
	Numeric uint32 `yaml:"numeric"`
}

// loadCriteriaFile registers every entry in path against reg. A missing
// path is not an error: an engine with no declared criteria is valid,
// if unusual (every domain configuration's rule then evaluates against
// an empty criterion.Snapshot).
func loadCriteriaFile(reg *criterion.Registry, path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("criteria file %s: %w", path, err)
	}

	var doc criteriaFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("criteria file %s: %w", path, err)
	}

	for _, entry := range doc.Criteria {
		kind, err := parseCriterionKind(entry.Kind)
		if err != nil {
			return fmt.Errorf("criteria file %s: criterion %s: %w", path, entry.Name, err)
		}
		values := make([]criterion.ValueEntry, 0, len(entry.Values))
		for _, v := range entry.Values {
			values = append(values, criterion.ValueEntry{Literal: v.Literal, Numeric: v.Numeric})
		}
		if _, err := reg.Register(entry.Name, kind, values); err != nil {
			return fmt.Errorf("criteria file %s: criterion %s: %w", path, entry.Name, err)
		}
	}
	return nil
}

func parseCriterionKind(s string) (criterion.Kind, error) {
	switch s {
	case "", "exclusive":
		return criterion.Exclusive, nil
	case "inclusive":
		return criterion.Inclusive, nil
	default:
		return 0, fmt.Errorf("unknown criterion kind %q", s)
	}
}
