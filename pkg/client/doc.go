// Package client implements the orchestration-to-core interface
// (CallEntity, SignalEntity, LockEntities) and the client-facing
// interface (GetEntity, GetAllEntities, SignalEntity,
// CleanEntityStorage) as plain in-process Go methods on Engine,
// consumed directly rather than over a wire transport (see DESIGN.md
// for why no gRPC surface is generated here). Counter and the two
// StringStore variants are reference entity types used to exercise the
// engine end to end, not part of its public contract.
package client
