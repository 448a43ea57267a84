package route

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// fileRoute is the YAML shape of one routes.yaml entry. It deliberately
// excludes Bindings: REST method bindings are compiled from service
// definitions by package restmap and attached to the matching Route after
// loading (see cmd/gateway's composition root), since they need a
// schema.Method the route file alone cannot express.
type fileRoute struct {
	Name       string   `yaml:"name"`
	Host       string   `yaml:"host"`
	PathPrefix string   `yaml:"path_prefix"`
	Methods    []string `yaml:"methods"`
	IsBulkData bool     `yaml:"is_bulk_data"`
	Target     struct {
		Kind      string `yaml:"kind"`
		Lifecycle string `yaml:"lifecycle"`
		Host      string `yaml:"host"`
		Port      int    `yaml:"port"`
		Protocol  string `yaml:"protocol"`
		GRPCWire  string `yaml:"grpc_wire"`
	} `yaml:"target"`
}

type fileRoutes struct {
	Routes []fileRoute `yaml:"routes"`
}

// LoadFile parses a routes.yaml document into a route list, in document
// order, ready to pass to NewTable (after any REST bindings have been
// attached).
func LoadFile(path string) ([]Route, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("route: reading %s: %w", path, err)
	}

	var doc fileRoutes
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("route: parsing %s: %w", path, err)
	}

	routes := make([]Route, 0, len(doc.Routes))
	for _, fr := range doc.Routes {
		methods := map[string]bool{}
		for _, m := range fr.Methods {
			methods[m] = true
		}
		routes = append(routes, Route{
			Name:       fr.Name,
			Host:       fr.Host,
			PathPrefix: fr.PathPrefix,
			Methods:    methods,
			IsBulkData: fr.IsBulkData,
			Target: Target{
				Kind:      TargetKind(fr.Target.Kind),
				Lifecycle: Lifecycle(fr.Target.Lifecycle),
				Host:      fr.Target.Host,
				Port:      fr.Target.Port,
				Protocol:  Protocol(fr.Target.Protocol),
				GRPCWire:  GRPCWireKind(fr.Target.GRPCWire),
			},
		})
	}
	return routes, nil
}
