// Package store provides durable session persistence for inbox-gateway
// using SQLite.
//
// The Store interface is deliberately small: read, insert-or-replace,
// delete, and list, keyed by session id. Events and state travel as JSON
// blobs, so the schema never changes when the conversation producer adds
// state keys. The write-behind layer in internal/session owns all caching;
// this package only talks to the database.
package store
