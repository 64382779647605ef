// Package chat is the durable store for direct conversations and their messages.
//
// Service owns authorization and policy (participant checks, the edit window,
// pagination bounds, read receipts). Persistence sits behind Repository, with
// in-memory, PostgreSQL and MongoDB adapters. Every mutating Service call writes
// through before returning, and its return value is the canonical record callers
// must broadcast.
package chat
