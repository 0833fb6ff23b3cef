// Package session provides authenticated-session persistence for the glow
// platform: opaque session records, lazy idle/absolute expiry, and a per-user
// revocation index.
//
// # Backends
//
// Two backends implement [Store]: [MemoryStore] (single process, mutex-guarded,
// development and single-instance deployments) and [RedisStore] (horizontally
// scaled deployments sharing one logical store). The backend is selected once
// at startup through [New]; behavior is identical across backends because all
// logical expiry decisions (absolute cap, idle check) are computed here —
// Redis TTLs are defense in depth, not the source of truth.
//
// # Architecture boundaries
//
// This package owns session records and the revocation index. It does NOT
// read cookies, verify CSRF tokens, or enforce authentication policy — those
// responsibilities belong to the Engine.
//
// # What this package must NOT do
//
//   - Import authcore or middleware (no upward imports).
//   - Decide what an authenticated request is allowed to do.
//   - Run background reapers: expiry is always re-checked at read time.
package session
