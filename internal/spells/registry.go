package spells

import (
	"fmt"
	"sort"
	"strings"

	"github.com/danmuck/spellctl/internal/command"
)

// Spell is a named pipeline exposed to operators.
type Spell struct {
	Name        string           `json:"name" yaml:"name"`
	Description string           `json:"description" yaml:"description"`
	Write       bool             `json:"write" yaml:"write"`
	Params      []string         `json:"params,omitempty" yaml:"params,omitempty"`
	Pipeline    command.Callable `json:"-" yaml:"-"`
}

// ValidateParams checks that every required parameter is set.
func (s Spell) ValidateParams(params map[string]string) error {
	var missing []string
	for _, key := range s.Params {
		if strings.TrimSpace(params[key]) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s requires %s", ErrMissingParam, s.Name, strings.Join(missing, ", "))
	}
	return nil
}

// Registry stores spells by name.
type Registry struct {
	items map[string]Spell
}

func NewRegistry() *Registry {
	return &Registry{items: make(map[string]Spell)}
}

// Register adds a spell. Names are lowercase with single separators.
func (r *Registry) Register(spell Spell) error {
	name := strings.TrimSpace(spell.Name)
	if name == "" || strings.TrimSpace(spell.Description) == "" {
		return fmt.Errorf("%w: name and description are required", ErrInvalidSpell)
	}
	if !isValidID(name) {
		return fmt.Errorf("%w: invalid name format %q", ErrInvalidSpell, name)
	}
	if spell.Pipeline == nil {
		return fmt.Errorf("%w: %s has no pipeline", ErrInvalidSpell, name)
	}
	if _, ok := r.items[name]; ok {
		return fmt.Errorf("%w: %s", ErrSpellExists, name)
	}
	r.items[name] = spell
	return nil
}

func (r *Registry) Resolve(name string) (Spell, bool) {
	spell, ok := r.items[name]
	return spell, ok
}

// Lookup is Resolve with an error for unknown names.
func (r *Registry) Lookup(name string) (Spell, error) {
	spell, ok := r.items[name]
	if !ok {
		return Spell{}, fmt.Errorf("%w: %s", ErrUnknownSpell, name)
	}
	return spell, nil
}

// List returns spells ordered by name.
func (r *Registry) List() []Spell {
	list := make([]Spell, 0, len(r.items))
	for _, spell := range r.items {
		list = append(list, spell)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].Name < list[j].Name
	})
	return list
}

func isValidID(id string) bool {
	if id == "" {
		return false
	}
	lastSep := false
	for i := 0; i < len(id); i++ {
		c := id[i]
		isLower := c >= 'a' && c <= 'z'
		isDigit := c >= '0' && c <= '9'
		isSep := c == '-' || c == '_'
		if !(isLower || isDigit || isSep) {
			return false
		}
		if (i == 0 || i == len(id)-1) && isSep {
			return false
		}
		if isSep && lastSep {
			return false
		}
		lastSep = isSep
	}
	return true
}

// DefaultRegistry returns every built-in spell.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, spell := range builtins() {
		if err := r.Register(spell); err != nil {
			panic(err)
		}
	}
	return r
}

func builtins() []Spell {
	seq := command.Sequential
	return []Spell{
		{
			Name:        "ping",
			Description: "Check that each controller is reachable",
			Pipeline:    seq("ping", ControllerConnected()),
		},
		{
			Name:        "list-models",
			Description: "List the models on each controller",
			Pipeline:    seq("list-models", GetController(), ListModels()),
		},
		{
			Name:        "status",
			Description: "Show the status of the selected models",
			Pipeline:    seq("status", GetController(), ListModels(), GetModelStatus()),
		},
		{
			Name:        "info",
			Description: "Show controller identity with its models and users",
			Pipeline: seq("info", GetController(),
				command.Parallel("info-details", ListModels(), ListUsers())),
		},
		{
			Name:        "grant",
			Description: "Grant a user controller and model access",
			Write:       true,
			Params:      []string{ParamUser, ParamACL},
			Pipeline:    seq("grant", GetController(), Grant()),
		},
		{
			Name:        "revoke",
			Description: "Revoke a user's controller access",
			Write:       true,
			Params:      []string{ParamUser},
			Pipeline:    seq("revoke", GetController(), Revoke()),
		},
		{
			Name:        "revoke-model",
			Description: "Revoke a user's access on the selected models",
			Write:       true,
			Params:      []string{ParamUser},
			Pipeline:    seq("revoke-model", GetController(), RevokeModel()),
		},
		{
			Name:        "add-user",
			Description: "Create and enable a user, optionally granting access",
			Write:       true,
			Params:      []string{ParamUser},
			Pipeline:    seq("add-user", GetController(), AddUser()),
		},
		{
			Name:        "remove-user",
			Description: "Revoke a user's access and disable it",
			Write:       true,
			Params:      []string{ParamUser},
			Pipeline:    seq("remove-user", GetController(), RemoveUser()),
		},
		{
			Name:        "enable-user",
			Description: "Enable a user",
			Write:       true,
			Params:      []string{ParamUser},
			Pipeline:    seq("enable-user", GetController(), EnableUser()),
		},
		{
			Name:        "disable-user",
			Description: "Disable a user",
			Write:       true,
			Params:      []string{ParamUser},
			Pipeline:    seq("disable-user", GetController(), DisableUser()),
		},
		{
			Name:        "config",
			Description: "Get or set application config on the selected models",
			Write:       true,
			Pipeline:    seq("config", GetController(), ApplicationConfig()),
		},
	}
}
