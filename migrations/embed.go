// Package migrations embeds the SQL migration files for both supported
// backends. internal/migrate reads these filesystems to bootstrap and
// version the schema.
package migrations

import "embed"

//go:embed postgres/*.sql
var PostgresFS embed.FS

//go:embed sqlite/*.sql
var SQLiteFS embed.FS

// PartitionTemplate is the statement internal/eventstore/postgres executes to
// lazily attach a tenant's list partition to each parent table. {{PARTITION}}
// is substituted with the literal partition key and {{SUFFIX}} with a name-safe
// derivation of it used for the child table names.
const PartitionTemplate = `
CREATE TABLE IF NOT EXISTS streams_{{SUFFIX}} PARTITION OF streams FOR VALUES IN ('{{PARTITION}}');
CREATE TABLE IF NOT EXISTS messages_{{SUFFIX}} PARTITION OF messages FOR VALUES IN ('{{PARTITION}}');
CREATE TABLE IF NOT EXISTS subscriptions_{{SUFFIX}} PARTITION OF subscriptions FOR VALUES IN ('{{PARTITION}}');
`
