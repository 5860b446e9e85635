// Package machines resolves execution targets for slash commands. A machine
// is a named repository checkout, either on this host or reachable over ssh.
package machines

import (
	"context"
	"sort"

	"github.com/galaxyproto/caduceus/internal/config"
)

// Machine is one registered execution target.
type Machine struct {
	Name     string
	Host     string
	RepoPath string
	SSHUser  string
}

// IsLocal reports whether commands for this machine run on this host.
func (m Machine) IsLocal() bool {
	return m.Host == "" || m.Host == "localhost" || m.Host == "127.0.0.1"
}

// CommandRunner executes a command on a machine and returns stdout, stderr,
// and the exit code. Injectable for tests.
type CommandRunner func(ctx context.Context, m Machine, args ...string) (string, string, int, error)

// Registry holds the configured machines and the default target.
type Registry struct {
	machines    map[string]Machine
	defaultName string
	run         CommandRunner
}

// NewRegistry builds a Registry from config. Load has already folded the
// legacy single-machine fields into Machines.
func NewRegistry(cfg *config.Config) *Registry {
	machines := make(map[string]Machine, len(cfg.Machines))
	for name, mc := range cfg.Machines {
		machines[name] = Machine{
			Name:     name,
			Host:     mc.Host,
			RepoPath: config.ExpandHome(mc.RepoPath),
		}
	}
	return &Registry{
		machines:    machines,
		defaultName: cfg.DefaultMachine,
		run:         runCommand,
	}
}

// DefaultName returns the default target's name.
func (r *Registry) DefaultName() string { return r.defaultName }

// Resolve maps a name to its machine. An empty name resolves to the default.
func (r *Registry) Resolve(name string) (Machine, bool) {
	if name == "" {
		name = r.defaultName
	}
	m, ok := r.machines[name]
	return m, ok
}

// Has reports whether a machine name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.machines[name]
	return ok
}

// All returns every machine sorted by name, for stable command output.
func (r *Registry) All() []Machine {
	names := make([]string, 0, len(r.machines))
	for name := range r.machines {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]Machine, 0, len(names))
	for _, name := range names {
		out = append(out, r.machines[name])
	}
	return out
}

// Names returns the sorted machine names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.machines))
	for name := range r.machines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
