// Package cogs holds the compiled-in cogs.
package cogs

import (
	"github.com/brensch/teamassistant/cog"
)

// Register adds every compiled-in cog to reg under namespace.
func Register(reg *cog.Registry, namespace string) error {
	factories := map[string]cog.Factory{
		"ping":  func() cog.Cog { return &Ping{} },
		"help":  func() cog.Cog { return &Help{} },
		"sheet": func() cog.Cog { return &Sheet{} },
	}
	for name, factory := range factories {
		id := name
		if namespace != "" {
			id = namespace + "." + name
		}
		if err := reg.Register(id, factory); err != nil {
			return err
		}
	}
	return nil
}
