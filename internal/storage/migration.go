package storage

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/meshswap/kdfnode/internal/kdferrors"
)

// migrationFile is the integer `.migration` file spec.md §4.5 names,
// kept at the DB root and read/written identically by both backends.
const migrationFile = ".migration"

// Migration is a single sequential schema upgrade step, identified by
// the version it upgrades *to*.
type Migration struct {
	Version uint
	Apply   func() error
}

// ReadSchemaVersion reads the integer version stored in dbDir's
// `.migration` file, defaulting to 0 for a fresh database directory.
func ReadSchemaVersion(dbDir string) (uint, error) {
	data, err := os.ReadFile(filepath.Join(dbDir, migrationFile))
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, kdferrors.New(kdferrors.KindStorage, "read_migration_file_failed", err)
	}
	v, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, kdferrors.New(kdferrors.KindStorage, "parse_migration_file_failed", err)
	}
	return uint(v), nil
}

// WriteSchemaVersion persists the current schema version to dbDir's
// `.migration` file.
func WriteSchemaVersion(dbDir string, version uint) error {
	if err := os.MkdirAll(dbDir, 0o755); err != nil {
		return kdferrors.New(kdferrors.KindStorage, "create_db_dir_failed", err)
	}
	path := filepath.Join(dbDir, migrationFile)
	if err := os.WriteFile(path, []byte(strconv.FormatUint(uint64(version), 10)), 0o644); err != nil {
		return kdferrors.New(kdferrors.KindStorage, "write_migration_file_failed", err)
	}
	return nil
}

// RunMigrations applies every migration whose Version exceeds the
// currently stored schema version, in ascending order, writing the new
// version after each successful step. Per spec.md §4.5: "schema
// upgrades run sequentially from the stored version."
func RunMigrations(dbDir string, migrations []Migration) error {
	current, err := ReadSchemaVersion(dbDir)
	if err != nil {
		return err
	}
	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		if err := m.Apply(); err != nil {
			return kdferrors.New(kdferrors.KindStorage, "migration_failed", err)
		}
		if err := WriteSchemaVersion(dbDir, m.Version); err != nil {
			return err
		}
		current = m.Version
	}
	return nil
}
