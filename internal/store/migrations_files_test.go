package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestMigrationsPairUpAndDown(t *testing.T) {
	dir := filepath.Join("..", "..", "db", "migrations")
	ups, err := ListMigrations(dir, "up")
	if err != nil {
		t.Fatalf("list up migrations: %v", err)
	}
	downs, err := ListMigrations(dir, "down")
	if err != nil {
		t.Fatalf("list down migrations: %v", err)
	}
	if len(ups) == 0 {
		t.Fatal("no migrations discovered")
	}
	if len(ups) != len(downs) {
		t.Fatalf("found %d up and %d down migrations", len(ups), len(downs))
	}

	for i, up := range ups {
		if want := fmt.Sprintf("%04d", i+1); up.Version != want {
			t.Fatalf("migration %s: expected version %s, versions must be contiguous", up.Name, want)
		}
		down := downs[i]
		if down.Version != up.Version {
			t.Fatalf("version %s has no matching down migration", up.Version)
		}
		if strings.TrimSuffix(up.Name, ".up.sql") != strings.TrimSuffix(down.Name, ".down.sql") {
			t.Fatalf("migration names differ: %s vs %s", up.Name, down.Name)
		}
	}
}

func TestListMigrationsIgnoresStrayFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"0002_b.up.sql", "0001_a.up.sql", "0001_a.down.sql", "README.md", "notes.up.sql"} {
		writeFile(t, filepath.Join(dir, name), "SELECT 1;")
	}

	ups, err := ListMigrations(dir, "up")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ups) != 2 || ups[0].Name != "0001_a.up.sql" || ups[1].Name != "0002_b.up.sql" {
		t.Fatalf("unexpected migrations %+v", ups)
	}
}

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
