package agent

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed agents.yaml
var defaultRolesYAML []byte

// Role is a prompt and tool configuration for one agent.
type Role struct {
	Name         string   `yaml:"name"`
	Description  string   `yaml:"description"`
	SystemPrompt string   `yaml:"system_prompt"`
	Tools        []string `yaml:"tools"`
	MaxRounds    int      `yaml:"max_rounds"`
}

// Roles holds the planner and the delegate agents.
type Roles struct {
	Planner    Role `yaml:"planner"`
	Researcher Role `yaml:"researcher"`
	Coder      Role `yaml:"coder"`
}

// DefaultRoles returns the embedded role definitions.
func DefaultRoles() Roles {
	var r Roles
	if err := yaml.Unmarshal(defaultRolesYAML, &r); err != nil {
		panic("agent: invalid embedded agents.yaml: " + err.Error())
	}
	return r
}

// LoadRoles reads role definitions from path. Roles missing from the file
// keep their embedded defaults. An empty path returns the defaults.
func LoadRoles(path string) (Roles, error) {
	roles := DefaultRoles()
	if path == "" {
		return roles, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return roles, fmt.Errorf("read agents file: %w", err)
	}
	var override Roles
	if err := yaml.Unmarshal(data, &override); err != nil {
		return roles, fmt.Errorf("parse agents file %s: %w", path, err)
	}

	roles.Planner = mergeRole(roles.Planner, override.Planner)
	roles.Researcher = mergeRole(roles.Researcher, override.Researcher)
	roles.Coder = mergeRole(roles.Coder, override.Coder)
	return roles, nil
}

func mergeRole(base, over Role) Role {
	if over.Name != "" {
		base.Name = over.Name
	}
	if over.Description != "" {
		base.Description = over.Description
	}
	if over.SystemPrompt != "" {
		base.SystemPrompt = over.SystemPrompt
	}
	if over.Tools != nil {
		base.Tools = over.Tools
	}
	if over.MaxRounds > 0 {
		base.MaxRounds = over.MaxRounds
	}
	return base
}
