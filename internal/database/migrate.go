package database

import (
	"context"
	"database/sql"
	"fmt"
)

// schema creates the bookings collection.  seq preserves insertion order,
// which is the order bookings are listed in.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS bookings (
		seq        BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
		id         CHAR(36)        NOT NULL,
		name       VARCHAR(255)    NOT NULL,
		date       CHAR(10)        NOT NULL,
		created_at DATETIME(6)     NOT NULL,
		PRIMARY KEY (seq),
		UNIQUE KEY uq_bookings_id (id),
		KEY idx_bookings_date (date)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

// Migrate applies the schema.  Every statement is idempotent.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate step %d: %w", i+1, err)
		}
	}
	return nil
}
