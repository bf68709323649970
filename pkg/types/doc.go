// Package types defines the harness Config, the fixed connection identity
// of the disposable PostgreSQL instance, and standard error values for the
// pgbox harness.
package types
