package mrbot

import (
	_ "embed"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed services.yaml
var servicesYAML []byte

// Service describes one batch-capable API service from the embedded catalog.
type Service struct {
	Name             string   `yaml:"-"`
	Path             string   `yaml:"path"`
	Method           string   `yaml:"method"`
	IdentifierColumn string   `yaml:"identifier_column"`
	RequiredColumns  []string `yaml:"required_columns"`
}

type catalogFile struct {
	Services map[string]Service `yaml:"services"`
}

var catalog map[string]Service

func init() {
	var parsed catalogFile
	if err := yaml.Unmarshal(servicesYAML, &parsed); err != nil {
		panic(fmt.Sprintf("mrbot: invalid services.yaml: %v", err))
	}
	catalog = make(map[string]Service, len(parsed.Services))
	for name, svc := range parsed.Services {
		svc.Name = name
		catalog[name] = svc
	}
}

// LookupService returns the catalog entry for a service name.
func LookupService(name string) (Service, error) {
	svc, ok := catalog[name]
	if !ok {
		return Service{}, fmt.Errorf("%w: %s", ErrUnknownService, name)
	}
	return svc, nil
}

// ServiceNames returns the catalog service names, sorted.
func ServiceNames() []string {
	names := make([]string, 0, len(catalog))
	for name := range catalog {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
