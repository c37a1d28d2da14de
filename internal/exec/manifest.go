package exec

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/ShayCichocki/stepwise/internal/capability"
	"github.com/ShayCichocki/stepwise/pkg/models"
)

// Manifest is a capabilities file:
//
//	capabilities:
//	  - id: search_competitors
//	    path: research/search_competitors
//	    category: research
//	    tier: trusted
//	    sensitivity: public
//	    command: ./bin/search.sh
type Manifest struct {
	Capabilities []ManifestEntry `yaml:"capabilities"`

	dir string
}

// ManifestEntry describes one command capability.
type ManifestEntry struct {
	ID              string             `yaml:"id"`
	Path            string             `yaml:"path"`
	Name            string             `yaml:"name"`
	Description     string             `yaml:"description"`
	Category        string             `yaml:"category"`
	Permissions     []string           `yaml:"permissions"`
	Tier            string             `yaml:"tier"`
	EstimatedCostMs int64              `yaml:"estimated_cost_ms"`
	Sensitivity     models.Sensitivity `yaml:"sensitivity"`
	Command         string             `yaml:"command"`
	WorkDir         string             `yaml:"work_dir"`
	Env             map[string]string  `yaml:"env"`
}

// LoadManifest reads a capabilities file. Relative work_dir values resolve
// against the file's directory.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read capabilities file: %w", err)
	}
	m, err := ParseManifest(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	m.dir = filepath.Dir(path)
	return m, nil
}

// ParseManifest decodes and validates manifest content.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse capabilities: %w", err)
	}

	var errs []error
	for i, e := range m.Capabilities {
		switch {
		case e.ID == "":
			errs = append(errs, fmt.Errorf("capability %d: id is required", i+1))
		case e.Command == "":
			errs = append(errs, fmt.Errorf("capability %s: command is required", e.ID))
		case e.Sensitivity != "" && !e.Sensitivity.Valid():
			errs = append(errs, fmt.Errorf("capability %s: unknown sensitivity %q", e.ID, e.Sensitivity))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &m, nil
}

// Descriptor returns the registry metadata for the entry.
func (e ManifestEntry) Descriptor() capability.Descriptor {
	d := capability.Descriptor{
		ID:              e.ID,
		Path:            e.Path,
		Name:            e.Name,
		Description:     e.Description,
		Category:        e.Category,
		Permissions:     e.Permissions,
		Tier:            capability.ParseTrustTier(e.Tier),
		EstimatedCostMs: e.EstimatedCostMs,
		Sensitivity:     e.Sensitivity,
	}
	if d.Name == "" {
		d.Name = e.ID
	}
	return d
}

// Register adds every manifest entry to reg as a CommandCapability.
func (m *Manifest) Register(reg *capability.Registry, runner CommandRunner) error {
	for _, e := range m.Capabilities {
		workDir := e.WorkDir
		if workDir != "" && !filepath.IsAbs(workDir) && m.dir != "" {
			workDir = filepath.Join(m.dir, workDir)
		}
		if workDir == "" {
			workDir = m.dir
		}

		keys := make([]string, 0, len(e.Env))
		for k := range e.Env {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		env := make([]string, 0, len(keys))
		for _, k := range keys {
			env = append(env, k+"="+os.ExpandEnv(e.Env[k]))
		}

		impl := &CommandCapability{Command: e.Command, WorkDir: workDir, Env: env, Runner: runner}
		if err := reg.Register(e.Descriptor(), impl); err != nil {
			return fmt.Errorf("register %s: %w", e.ID, err)
		}
	}
	return nil
}
