// Package parser reads declarative node schema files written in HCL.
//
//	node "Widget" {
//	  scoped_cleanup = true
//	  extra_labels   = ["Asset"]
//
//	  property "id"          { field = "id" }
//	  property "name"        { field = "name" }
//	  property "lastupdated" { constant = "UPDATE_TAG" }
//
//	  sub_resource {
//	    target_label = "Tenant"
//	    rel_label    = "RESOURCE"
//	    match "id" { constant = "TENANT_ID" }
//	    property "lastupdated" { constant = "UPDATE_TAG" }
//	  }
//
//	  conditional_label "Public" {
//	    when = { public = true }
//	  }
//	}
package parser

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/asakaida/graphsync/internal/entities"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
)

// Definition is one decoded node block: the catalog name and its schema.
type Definition struct {
	Name   string
	Schema *entities.NodeSchema
}

// Parse decodes the HCL document src. filename is only used in diagnostics.
func Parse(src []byte, filename string) ([]Definition, error) {
	file, diags := hclparse.NewParser().ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file %s: %w", filename, diags)
	}

	var decoded hclFile
	if diags := gohcl.DecodeBody(file.Body, nil, &decoded); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL file %s: %w", filename, diags)
	}

	defs := make([]Definition, 0, len(decoded.Nodes))
	for _, node := range decoded.Nodes {
		schema, err := node.toSchema()
		if err != nil {
			return nil, fmt.Errorf("%s: node %q: %w", filename, node.Name, err)
		}
		defs = append(defs, Definition{Name: node.Name, Schema: schema})
	}
	return defs, nil
}

// ParseFile decodes the HCL file at path.
func ParseFile(path string) ([]Definition, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file: %w", err)
	}
	return Parse(src, path)
}

// LoadCatalog decodes every path (a file, or a directory searched for *.hcl)
// and registers the schemas in a new catalog. Files load in lexical order.
func LoadCatalog(paths ...string) (*entities.Catalog, error) {
	files, err := expand(paths)
	if err != nil {
		return nil, err
	}

	catalog := entities.NewCatalog()
	for _, file := range files {
		defs, err := ParseFile(file)
		if err != nil {
			return nil, err
		}
		for _, def := range defs {
			if err := catalog.Register(def.Name, def.Schema); err != nil {
				return nil, fmt.Errorf("%s: %w", file, err)
			}
		}
	}
	return catalog, nil
}

func expand(paths []string) ([]string, error) {
	var files []string
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("failed to stat schema path: %w", err)
		}
		if !info.IsDir() {
			files = append(files, path)
			continue
		}
		matches, err := filepath.Glob(filepath.Join(path, "*.hcl"))
		if err != nil {
			return nil, fmt.Errorf("failed to list schema directory: %w", err)
		}
		sort.Strings(matches)
		files = append(files, matches...)
	}
	return files, nil
}
