package workflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/BaSui01/ensembleflow/types"
)

// Definition is the file form of a workflow: the models each node invokes and
// the adjacency list of the DAG.
//
//	name: ensemble
//	models:
//	  pre: {model: preprocess}
//	  m1:  {model: resnet, version: "2.0"}
//	dag:
//	  pre: [m1]
type Definition struct {
	Name        string                `json:"name" yaml:"name"`
	Description string                `json:"description,omitempty" yaml:"description,omitempty"`
	Models      map[string]ServiceRef `json:"models" yaml:"models"`
	DAG         map[string][]string   `json:"dag,omitempty" yaml:"dag,omitempty"`
}

// Validate checks that the definition describes a buildable graph, apart from
// cycle detection which Graph performs.
func (d *Definition) Validate() error {
	var errs []error

	if strings.TrimSpace(d.Name) == "" {
		errs = append(errs, errors.New("workflow name is required"))
	}
	if len(d.Models) == 0 {
		errs = append(errs, errors.New("at least one model is required"))
	}
	for node, ref := range d.Models {
		if ref.Model == "" {
			errs = append(errs, fmt.Errorf("node %s: model name is required", node))
		}
	}
	for from, targets := range d.DAG {
		if _, ok := d.Models[from]; !ok {
			errs = append(errs, fmt.Errorf("dag source %s is not declared in models", from))
		}
		for _, to := range targets {
			if _, ok := d.Models[to]; !ok {
				errs = append(errs, fmt.Errorf("dag target %s (from %s) is not declared in models", to, from))
			}
		}
	}

	if len(errs) > 0 {
		return types.NewError(types.ErrGraphInvalid, "invalid workflow definition").WithCause(errors.Join(errs...))
	}
	return nil
}

// Graph validates the definition and builds its Graph.
func (d *Definition) Graph() (*Graph, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	b := NewGraphBuilder()

	names := make([]string, 0, len(d.Models))
	for name := range d.Models {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		b.AddNode(name, d.Models[name])
	}

	sources := make([]string, 0, len(d.DAG))
	for from := range d.DAG {
		sources = append(sources, from)
	}
	sort.Strings(sources)
	for _, from := range sources {
		for _, to := range d.DAG[from] {
			b.AddEdge(from, to)
		}
	}

	return b.Build()
}

// DefinitionFromGraph converts a graph back into its file form.
func DefinitionFromGraph(name string, g *Graph) *Definition {
	d := &Definition{
		Name:   name,
		Models: make(map[string]ServiceRef, g.Len()),
		DAG:    make(map[string][]string),
	}
	for _, n := range g.NodeNames() {
		node, _ := g.Node(n)
		d.Models[n] = node.Service
		if children := g.Children(n); len(children) > 0 {
			d.DAG[n] = children
		}
	}
	return d
}

// ToJSON renders the definition as indented JSON.
func (d *Definition) ToJSON() (string, error) {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal to JSON: %w", err)
	}
	return string(data), nil
}

// ToYAML renders the definition as YAML.
func (d *Definition) ToYAML() (string, error) {
	data, err := yaml.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("failed to marshal to YAML: %w", err)
	}
	return string(data), nil
}

// ParseDefinitionJSON decodes and validates a JSON definition.
func ParseDefinitionJSON(data []byte) (*Definition, error) {
	var def Definition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow JSON: %w", err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// ParseDefinitionYAML decodes and validates a YAML definition.
func ParseDefinitionYAML(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow YAML: %w", err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// LoadDefinitionFile reads a definition, choosing the decoder by extension.
// Files other than .json are parsed as YAML.
func LoadDefinitionFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow file: %w", err)
	}

	if strings.EqualFold(filepath.Ext(path), ".json") {
		return ParseDefinitionJSON(data)
	}
	return ParseDefinitionYAML(data)
}
