// Package tasks tracks fire-and-forget background operations so that
// nothing is silently dropped before completion, without imposing any
// ordering among them.
package tasks
