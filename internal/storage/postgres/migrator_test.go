package postgres

import (
	"strings"
	"testing"
	"testing/fstest"
)

func TestLoadMigrationsFromFS_Success(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"sql/migrations/0001_init.up.sql": {
			Data: []byte("CREATE TABLE test_a (id INT);"),
		},
		"sql/migrations/0001_init.down.sql": {
			Data: []byte("DROP TABLE IF EXISTS test_a;"),
		},
		"sql/migrations/0002_more.up.sql": {
			Data: []byte("CREATE TABLE test_b (id INT);"),
		},
		"sql/migrations/0002_more.down.sql": {
			Data: []byte("DROP TABLE IF EXISTS test_b;"),
		},
	}

	migrations, err := loadMigrationsFromFS(fsys)
	if err != nil {
		t.Fatalf("loadMigrationsFromFS failed: %v", err)
	}
	if len(migrations) != 2 {
		t.Fatalf("expected 2 migrations, got %d", len(migrations))
	}

	if migrations[0].Version != 1 || migrations[0].Name != "init" {
		t.Fatalf("unexpected first migration: %+v", migrations[0])
	}
	if migrations[1].Version != 2 || migrations[1].Name != "more" {
		t.Fatalf("unexpected second migration: %+v", migrations[1])
	}
}

func TestLoadMigrationsFromFS_MissingDown(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"sql/migrations/0001_init.up.sql": {
			Data: []byte("CREATE TABLE test_a (id INT);"),
		},
	}

	_, err := loadMigrationsFromFS(fsys)
	if err == nil {
		t.Fatal("expected error for missing down migration")
	}
	if !strings.Contains(err.Error(), "both up and down") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadMigrationsFromFS_InvalidFilename(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"sql/migrations/not_a_migration.sql": {
			Data: []byte("SELECT 1;"),
		},
	}

	_, err := loadMigrationsFromFS(fsys)
	if err == nil {
		t.Fatal("expected error for invalid migration file name")
	}
}

func TestLoadMigrationsFromFS_EmptyFile(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"sql/migrations/0001_init.up.sql": {
			Data: []byte("   \n"),
		},
		"sql/migrations/0001_init.down.sql": {
			Data: []byte("DROP TABLE IF EXISTS test;"),
		},
	}

	_, err := loadMigrationsFromFS(fsys)
	if err == nil {
		t.Fatal("expected error for empty migration file body")
	}
}

func TestLoadMigrationsFromFS_Embedded(t *testing.T) {
	t.Parallel()

	migrations, err := loadMigrationsFromFS(migrationsFS)
	if err != nil {
		t.Fatalf("load embedded migrations: %v", err)
	}
	if len(migrations) != 3 {
		t.Fatalf("expected 3 embedded migrations, got %d", len(migrations))
	}
	if !strings.Contains(migrations[0].UpSQL, "ux_orders_order_number") {
		t.Fatal("first migration must create the order number unique index")
	}
}

func TestPlanMigrations(t *testing.T) {
	t.Parallel()

	migrations := []migration{
		{Version: 1, Name: "a", UpSQL: "up1", DownSQL: "down1"},
		{Version: 2, Name: "b", UpSQL: "up2", DownSQL: "down2"},
		{Version: 3, Name: "c", UpSQL: "up3", DownSQL: "down3"},
	}

	up, err := planMigrations(migrations, []int64{1}, migrationUp, 0)
	if err != nil {
		t.Fatalf("plan up: %v", err)
	}
	if len(up) != 2 || up[0].Version != 2 || up[1].Version != 3 {
		t.Fatalf("unexpected up plan: %+v", up)
	}

	oneStep, _ := planMigrations(migrations, nil, migrationUp, 1)
	if len(oneStep) != 1 || oneStep[0].Version != 1 {
		t.Fatalf("unexpected single-step plan: %+v", oneStep)
	}

	down, err := planMigrations(migrations, []int64{1, 2, 3}, migrationDown, 2)
	if err != nil {
		t.Fatalf("plan down: %v", err)
	}
	if len(down) != 2 || down[0].Version != 3 || down[1].Version != 2 {
		t.Fatalf("unexpected down plan: %+v", down)
	}
	if down[0].body(migrationDown) != "down3" {
		t.Fatalf("unexpected down body %q", down[0].body(migrationDown))
	}

	if _, err := planMigrations(migrations, []int64{9}, migrationDown, 1); err == nil {
		t.Fatal("expected error for unknown applied version")
	}
}

func TestStateFor(t *testing.T) {
	t.Parallel()

	migrations := []migration{{Version: 1}, {Version: 2}, {Version: 3}}
	state := stateFor(migrations, []int64{1, 2})
	if state.Version != 2 || state.Applied != 2 || state.Pending != 1 {
		t.Fatalf("unexpected state: %+v", state)
	}
}
