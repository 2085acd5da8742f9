package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aamira/courier-tracker/internal/shared/types"
	"github.com/bytedance/sonic"
	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"
)

// Resources a saved view can list
const (
	ResourcePackages = "packages"
	ResourceCouriers = "couriers"
)

// ViewSpec is a named filtered view mounted when a session starts
type ViewSpec struct {
	Name     string      `json:"name" yaml:"name" toml:"name"`
	Resource string      `json:"resource" yaml:"resource" toml:"resource"`
	Query    types.Query `json:"query" yaml:"query" toml:"query"`
}

// ViewsFile is the root of a saved views document
type ViewsFile struct {
	Views []ViewSpec `json:"views" yaml:"views" toml:"views"`
}

// LoadViews reads saved views from a YAML, TOML or JSON file, chosen by
// extension. An empty path yields no views.
func LoadViews(path string) ([]ViewSpec, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read views file: %w", err)
	}
	return ParseViews(filepath.Ext(path), data)
}

// ParseViews decodes a saved views document in the format named by ext
func ParseViews(ext string, data []byte) ([]ViewSpec, error) {
	var doc ViewsFile

	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse YAML views: %w", err)
		}
	case "toml":
		if err := toml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse TOML views: %w", err)
		}
	case "json":
		if err := sonic.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse JSON views: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported views file format %q", ext)
	}

	seen := make(map[string]bool, len(doc.Views))
	for i := range doc.Views {
		v := &doc.Views[i]
		if v.Name == "" {
			return nil, fmt.Errorf("view %d: name is required", i)
		}
		if seen[v.Name] {
			return nil, fmt.Errorf("view %q: duplicate name", v.Name)
		}
		seen[v.Name] = true

		if v.Resource == "" {
			v.Resource = ResourcePackages
		}
		if v.Resource != ResourcePackages && v.Resource != ResourceCouriers {
			return nil, fmt.Errorf("view %q: unknown resource %q", v.Name, v.Resource)
		}
		v.Query = v.Query.Normalize()
	}
	return doc.Views, nil
}
