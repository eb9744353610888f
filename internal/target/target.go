// Package target models the remote controllers a spell fans out to.
package target

import (
	"errors"
	"fmt"
	"strings"
)

const (
	TransportRPC = "rpc"
	TransportCLI = "cli"
)

var ErrInvalidTarget = errors.New("target: invalid target")

// SSHConfig describes how to reach a target host for the cli transport.
type SSHConfig struct {
	Host                        string `toml:"host" json:"host" yaml:"host"`
	Port                        string `toml:"port" json:"port,omitempty" yaml:"port,omitempty"`
	User                        string `toml:"user" json:"user" yaml:"user"`
	KeyPath                     string `toml:"key_path" json:"key_path,omitempty" yaml:"key_path,omitempty"`
	KnownHostsPath              string `toml:"known_hosts_path" json:"known_hosts_path,omitempty" yaml:"known_hosts_path,omitempty"`
	InsecureSkipHostKeyChecking bool   `toml:"insecure_skip_host_key_checking" json:"insecure_skip_host_key_checking,omitempty" yaml:"insecure_skip_host_key_checking,omitempty"`
	TimeoutSeconds              int    `toml:"timeout_seconds" json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty"`
}

// Target is one controller from the inventory. Credentials never leave the
// process through json or yaml rendering.
type Target struct {
	UUID         string              `toml:"uuid" json:"uuid" yaml:"uuid"`
	Name         string              `toml:"name" json:"name" yaml:"name"`
	Customer     string              `toml:"customer" json:"customer" yaml:"customer"`
	Owner        string              `toml:"owner" json:"owner,omitempty" yaml:"owner,omitempty"`
	Endpoint     string              `toml:"endpoint" json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	CACert       string              `toml:"ca_cert" json:"-" yaml:"-"`
	User         string              `toml:"user" json:"user,omitempty" yaml:"user,omitempty"`
	Password     string              `toml:"password" json:"-" yaml:"-"`
	Transport    string              `toml:"transport" json:"transport,omitempty" yaml:"transport,omitempty"`
	SSH          *SSHConfig          `toml:"ssh" json:"ssh,omitempty" yaml:"ssh,omitempty"`
	ModelMapping map[string][]string `toml:"model_mapping" json:"model_mapping,omitempty" yaml:"model_mapping,omitempty"`
	Tags         map[string]string   `toml:"tags" json:"tags,omitempty" yaml:"tags,omitempty"`
}

// Identity is the human readable name used in logs and errors.
func (t Target) Identity() string {
	switch {
	case t.Name != "" && t.UUID != "":
		return t.Name + " (" + t.UUID + ")"
	case t.Name != "":
		return t.Name
	default:
		return t.UUID
	}
}

// TransportName returns the configured transport, defaulting to rpc.
func (t Target) TransportName() string {
	name := strings.ToLower(strings.TrimSpace(t.Transport))
	if name == "" {
		return TransportRPC
	}
	return name
}

// Validate checks the fields every transport relies on.
func (t Target) Validate() error {
	if strings.TrimSpace(t.UUID) == "" {
		return fmt.Errorf("%w: uuid is required", ErrInvalidTarget)
	}
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("%w: name is required for %s", ErrInvalidTarget, t.UUID)
	}
	switch t.TransportName() {
	case TransportRPC:
		if strings.TrimSpace(t.Endpoint) == "" {
			return fmt.Errorf("%w: endpoint is required for %s", ErrInvalidTarget, t.Identity())
		}
	case TransportCLI:
		if t.SSH != nil && strings.TrimSpace(t.SSH.Host) == "" {
			return fmt.Errorf("%w: ssh host is required for %s", ErrInvalidTarget, t.Identity())
		}
	default:
		return fmt.Errorf("%w: unknown transport %q for %s", ErrInvalidTarget, t.Transport, t.Identity())
	}
	return nil
}

// ResolveModels expands aliases through ModelMapping. Unknown names pass
// through verbatim and duplicates are dropped in first-seen order.
func (t Target) ResolveModels(requested []string) []string {
	out := make([]string, 0, len(requested))
	seen := make(map[string]struct{}, len(requested))
	add := func(name string) {
		name = strings.TrimSpace(name)
		if name == "" {
			return
		}
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	for _, name := range requested {
		if mapped, ok := t.ModelMapping[strings.TrimSpace(name)]; ok {
			for _, m := range mapped {
				add(m)
			}
			continue
		}
		add(name)
	}
	return out
}

// Clone returns a copy whose maps and slices do not alias t.
func (t Target) Clone() Target {
	out := t
	if t.SSH != nil {
		ssh := *t.SSH
		out.SSH = &ssh
	}
	if t.ModelMapping != nil {
		out.ModelMapping = make(map[string][]string, len(t.ModelMapping))
		for k, v := range t.ModelMapping {
			out.ModelMapping[k] = append([]string(nil), v...)
		}
	}
	if t.Tags != nil {
		out.Tags = make(map[string]string, len(t.Tags))
		for k, v := range t.Tags {
			out.Tags[k] = v
		}
	}
	return out
}
