package store

import (
	"fmt"
	"time"
)

// ConfigOverrides returns all persisted tunable overrides as key/value pairs.
func (db *DB) ConfigOverrides() (map[string]string, error) {
	rows, err := db.Query("SELECT key, value FROM engine_config")
	if err != nil {
		return nil, fmt.Errorf("load config overrides: %w", err)
	}
	defer rows.Close()

	overrides := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan config override: %w", err)
		}
		overrides[k] = v
	}
	return overrides, rows.Err()
}

// SetConfigOverride persists a tunable so operators can retune without a
// rebuild. The caller validates the value before storing.
func (db *DB) SetConfigOverride(key, value string) error {
	if key == "" {
		return validationf("config key is required")
	}
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO engine_config (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = ?, updated_at = ?
	`, key, value, now, value, now)
	if err != nil {
		return fmt.Errorf("set config override: %w", err)
	}
	return nil
}

// DeleteConfigOverride removes a persisted tunable, reverting to the default.
func (db *DB) DeleteConfigOverride(key string) error {
	_, err := db.Exec("DELETE FROM engine_config WHERE key = ?", key)
	if err != nil {
		return fmt.Errorf("delete config override: %w", err)
	}
	return nil
}
