package cli

import (
	"fmt"
	"io"
	"os"
)

// Migrator is the schema migration runner.
type Migrator interface {
	Up() error
	Down() error
	Close() error
}

// MigrateOptions defines the arguments of the migrate command.
type MigrateOptions struct {
	Direction string
	Stdout    io.Writer
	Stderr    io.Writer
}

// MigrateCommand applies or rolls back migrations and returns the exit code.
func MigrateCommand(m Migrator, opts MigrateOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	defer func() {
		if err := m.Close(); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "migrate: close: %v\n", err)
		}
	}()
	var err error
	switch opts.Direction {
	case "", "up":
		err = m.Up()
	case "down":
		err = m.Down()
	default:
		_, _ = fmt.Fprintf(opts.Stderr, "migrate: unknown direction %q (expected up or down)\n", opts.Direction)
		return 2
	}
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "migrate: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintln(opts.Stdout, "migrate: ok")
	return 0
}
