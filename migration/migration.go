// A single named schema migration, applied in order by the db migrator.
package migration

import "database/sql"

type Migration struct {
	Name string
	Func func(tx *sql.Tx) error
}

func (m *Migration) String() string {
	return m.Name
}
