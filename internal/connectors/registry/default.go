package registry

import (
	"github.com/identrail/identrail/internal/connectors/adcs"
	"github.com/identrail/identrail/internal/connectors/adldap"
)

// Default returns a registry holding every connector type the system ships
// with.
func Default() *Registry {
	r := New()
	for _, def := range []Definition{
		adldap.Definition{},
		adcs.Definition{},
	} {
		if err := r.Register(def); err != nil {
			// Definitions are compiled in; a collision is a programming
			// error.
			panic(err)
		}
	}
	return r
}
