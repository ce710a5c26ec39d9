// Command entitycore is the operator CLI and demo harness for the
// durable entity store: it wires pkg/storage, pkg/dispatch,
// pkg/entity, pkg/lock, pkg/query, and pkg/client together behind a
// handful of subcommands (signal, call, lock-demo, query, clean, serve),
// the way cmd/warren wires its own subsystems behind cluster, manager,
// worker, and service subcommands.
//
// entitycore ships with three demo entity types (counter,
// stringstorea, stringstoreb) registered by exampleRegistry; a real
// deployment would bind its own entity types instead of importing
// this package's examples.
package main
