package server

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// Migrate applies database migrations from dir (for example file://migrations) to the
// database at dsn. steps limits how many migrations run; zero means all.
func Migrate(dir, dsn, direction string, steps int) error {
	if dir == "" {
		dir = "file://migrations"
	}
	if dsn == "" {
		return fmt.Errorf("postgres dsn required")
	}
	var sign int
	switch direction {
	case "up":
		sign = 1
	case "down":
		sign = -1
	default:
		return fmt.Errorf("unknown direction: %s", direction)
	}

	m, err := migrate.New(dir, dsn)
	if err != nil {
		return fmt.Errorf("open migrations %s: %w", dir, err)
	}
	defer m.Close()

	switch {
	case steps > 0:
		err = m.Steps(sign * steps)
	case sign > 0:
		err = m.Up()
	default:
		err = m.Down()
	}
	if errors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	return err
}
