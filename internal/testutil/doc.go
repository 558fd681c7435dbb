// Package testutil contains fluent builders for core messages and sessions
// used across tests. They are not intended for production usage.
package testutil
