package migrate

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"regexp"
	"strings"
)

const (
	upMarker   = "-- +goose Up"
	downMarker = "-- +goose Down"
)

var migrationName = regexp.MustCompile(`^(\d{14})_[a-z0-9_]+\.sql$`)

// ValidateDir runs ValidateFS over a directory on disk.
func ValidateDir(dir string) error {
	if dir == "" {
		return errors.New("migration dir is required")
	}
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("stat %s: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	return ValidateFS(os.DirFS(dir))
}

// ValidateFS checks every .sql file at the root of fsys: the name must be
// YYYYMMDDHHMMSS_name.sql, versions must be unique, and the Up section must
// precede the Down section.
func ValidateFS(fsys fs.FS) error {
	files, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}

	versions := make(map[string]string, len(files))
	for _, file := range files {
		match := migrationName.FindStringSubmatch(path.Base(file))
		if match == nil {
			return fmt.Errorf("%s: name must look like YYYYMMDDHHMMSS_name.sql", file)
		}
		if other, dup := versions[match[1]]; dup {
			return fmt.Errorf("%s: version %s already used by %s", file, match[1], other)
		}
		versions[match[1]] = file

		if err := checkSections(fsys, file); err != nil {
			return err
		}
	}
	return nil
}

func checkSections(fsys fs.FS, file string) error {
	body, err := fs.ReadFile(fsys, file)
	if err != nil {
		return fmt.Errorf("%s: %w", file, err)
	}
	text := string(body)
	up, down := strings.Index(text, upMarker), strings.Index(text, downMarker)
	switch {
	case up < 0:
		return fmt.Errorf("%s: missing %q", file, upMarker)
	case down < 0:
		return fmt.Errorf("%s: missing %q", file, downMarker)
	case down < up:
		return fmt.Errorf("%s: Down section precedes Up", file)
	}
	return nil
}
