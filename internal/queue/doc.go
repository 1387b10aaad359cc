// Package queue persists pipeline tasks in SQLite and exposes helpers for
// driving their lifecycle.
//
// The Store manages database connections, schema initialization, channel
// statistics, heartbeat tracking, stale-claim recovery, and validated status
// transitions. Claiming is a single atomic UPDATE whose subselect ranks
// candidates by priority tier, stateless channel rotation, and creation order,
// with channel ceilings re-checked inside the same statement; concurrent
// claimers therefore never receive the same task.
//
// Treat this package as the single source of truth for queue semantics; when
// you add statuses or metadata fields, update schema.sql and bump
// schemaVersion.
package queue
