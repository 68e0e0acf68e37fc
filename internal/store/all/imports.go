// Package all wires every built-in storage backend into the store factory.
//
// It exists purely for side effects: a blank import runs the init functions
// of the concrete backends, which register themselves with the store package.
// Binaries that want only a subset can import the individual backend packages
// instead.
package all

import (
	_ "traceimport/internal/store/mysql"
	_ "traceimport/internal/store/postgres"
	_ "traceimport/internal/store/sqlite"
)
