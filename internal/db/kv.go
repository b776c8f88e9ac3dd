package db

import (
	"database/sql"

	"github.com/meadow-im/go-roster/migration"
)

// KVMigrations creates the shared key/value table used for persisted
// projections such as the administrator lists.
func KVMigrations() []*migration.Migration {
	return []*migration.Migration{
		{
			Name: "create kv table",
			Func: func(tx *sql.Tx) error {
				_, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS _kv (
					key VARCHAR(255) NOT NULL,
					value BLOB NOT NULL,
					PRIMARY KEY (key)
				)`)
				return err
			},
		},
	}
}

// KVGet fetches a value by key. Must be called within a transaction. Returns
// found=false when the key is absent.
func (db *Database) KVGet(key string) ([]byte, bool, error) {
	var value []byte
	if err := db.Tx.Get(&value, "SELECT value FROM _kv WHERE key = ?", key); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, err
	}
	return value, true, nil
}

// KVSet inserts or replaces a value by key. Must be called within a transaction.
func (db *Database) KVSet(key string, value []byte) error {
	_, err := db.Tx.Exec("INSERT INTO _kv (key, value) VALUES (?, ?) ON CONFLICT (key) DO UPDATE SET value = ?", key, value, value)
	return err
}

// KVErase removes a key. Erasing an absent key is not an error.
func (db *Database) KVErase(key string) error {
	_, err := db.Tx.Exec("DELETE FROM _kv WHERE key = ?", key)
	return err
}
