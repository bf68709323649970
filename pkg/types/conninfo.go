// Fixed connection identity of the disposable instance and the environment
// contract exported to the child command.
package types

import "fmt"

// Connection identity constants. Every run uses the same superuser role,
// database, schema and anonymous role; a test sees identical connection
// parameters on every host.
const (
	// SuperRole is the trust-authenticated superuser the cluster is
	// initialized with and the role the harness connects as.
	SuperRole = "pgbox"

	// Database is the logical database fixtures and the child run against.
	Database = "postgres"

	// Schema is the schema the child command is pointed at.
	Schema = "test"

	// AnonRole is the anonymous role name exported for systems under test
	// that switch to an unauthenticated role.
	AnonRole = "pgbox_anonymous"
)

// Environment variable names of the contract consumed by the child command.
const (
	EnvDataDir     = "PGDATA"
	EnvSocketDir   = "PGHOST"
	EnvRole        = "PGUSER"
	EnvDatabase    = "PGDATABASE"
	EnvDatabaseURL = "DATABASE_URL"
	EnvSchema      = "PGBOX_SCHEMA"
	EnvAnonRole    = "PGBOX_ANON_ROLE"
)

// ConnInfo describes how to reach one provisioned instance. The endpoint is
// a unix-domain socket directory; the instance never listens on a TCP port.
type ConnInfo struct {
	DataDir   string
	SocketDir string
	Role      string
	Database  string
}

// URI returns the connection URI for the instance, routing through the
// private socket directory.
func (c ConnInfo) URI() string {
	return fmt.Sprintf("postgresql://%s@/%s?host=%s", c.Role, c.Database, c.SocketDir)
}
