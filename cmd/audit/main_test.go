package main

import (
	"bytes"
	"encoding/json"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jo-hoe/gallerystore/internal/backend/collection"

	"github.com/jo-hoe/gallerystore/internal/backend/database"
)

func seedDatabase(t *testing.T, statements ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.db")
	store, err := database.NewDatabase("sqlite", path, 0)
	if err != nil {
		t.Fatalf("NewDatabase error: %v", err)
	}
	defer func() { _ = store.Close() }()
	for _, stmt := range statements {
		if _, err := store.DB().Exec(stmt); err != nil {
			t.Fatalf("seed statement failed: %v", err)
		}
	}
	return path
}

const insertAsset = `INSERT INTO assets (id, parent_id, kind, position, thumbnail_id, high_res_of, width, height, byte_size, content_type, storage_path) VALUES `

func TestRun(t *testing.T) {
	healthy := seedDatabase(t,
		insertAsset+`(1, 1, 'highres', NULL, NULL, NULL, 1, 1, 1, 'image/png', 'h')`,
		insertAsset+`(2, 1, 'primary', 1, 3, NULL, 1, 1, 1, 'image/png', 'p')`,
		insertAsset+`(3, 1, 'thumbnail', NULL, NULL, NULL, 1, 1, 1, 'image/png', 't')`,
	)
	gapped := seedDatabase(t,
		insertAsset+`(1, 1, 'primary', 2, 2, NULL, 1, 1, 1, 'image/png', 'p')`,
		insertAsset+`(2, 1, 'thumbnail', NULL, NULL, NULL, 1, 1, 1, 'image/png', 't')`,
	)

	tests := []struct {
		name      string
		path      string
		parent    int64
		adjacency bool
		backfill  bool
		want      int
	}{
		{name: "empty database", path: seedDatabase(t), want: 0},
		{name: "legacy pair with adjacency", path: healthy, adjacency: true, want: 0},
		{name: "legacy pair without adjacency", path: healthy, want: 1},
		{name: "gap in positions", path: gapped, parent: 1, adjacency: true, want: 1},
		{name: "unsupported driver", path: "x", want: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dbType := "sqlite"
			if tt.want == 2 {
				dbType = "oracle"
			}
			opts := auditOptions{dbType: dbType, dsn: tt.path, parentID: tt.parent, adjacency: tt.adjacency, timeout: time.Second}
			if got := run(io.Discard, opts, tt.backfill); got != tt.want {
				t.Fatalf("run() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRun_BackfillRepairsLegacyLinks(t *testing.T) {
	path := seedDatabase(t,
		insertAsset+`(1, 1, 'highres', NULL, NULL, NULL, 1, 1, 1, 'image/png', 'h')`,
		insertAsset+`(2, 1, 'primary', 1, 3, NULL, 1, 1, 1, 'image/png', 'p')`,
		insertAsset+`(3, 1, 'thumbnail', NULL, NULL, NULL, 1, 1, 1, 'image/png', 't')`,
	)

	if got := run(io.Discard, auditOptions{dbType: "sqlite", dsn: path, adjacency: true, timeout: time.Second}, true); got != 0 {
		t.Fatalf("backfill run = %d, want 0", got)
	}
	if got := run(io.Discard, auditOptions{dbType: "sqlite", dsn: path, timeout: time.Second}, false); got != 0 {
		t.Fatalf("strict run after backfill = %d, want 0", got)
	}
}

func TestRun_BackfillFailureIsAnError(t *testing.T) {
	path := seedDatabase(t)

	got := run(io.Discard, auditOptions{dbType: "sqlite", dsn: path, parentID: -1, adjacency: true, timeout: time.Second}, true)
	if got != exitError {
		t.Fatalf("run() = %d, want %d", got, exitError)
	}
}

func TestRun_BackfillOfUnpairedRowReportsViolations(t *testing.T) {
	// High-res 3 sits after the thumbnail and cannot be paired.
	path := seedDatabase(t,
		insertAsset+`(1, 1, 'primary', 1, 2, NULL, 1, 1, 1, 'image/png', 'p')`,
		insertAsset+`(2, 1, 'thumbnail', NULL, NULL, NULL, 1, 1, 1, 'image/png', 't')`,
		insertAsset+`(3, 1, 'highres', NULL, NULL, NULL, 1, 1, 1, 'image/png', 'h')`,
	)

	got := run(io.Discard, auditOptions{dbType: "sqlite", dsn: path, adjacency: true, timeout: time.Second}, true)
	if got != exitViolations {
		t.Fatalf("run() = %d, want %d", got, exitViolations)
	}
}

func TestRootCommand(t *testing.T) {
	healthy := seedDatabase(t,
		insertAsset+`(1, 1, 'highres', NULL, NULL, NULL, 1, 1, 1, 'image/png', 'h')`,
		insertAsset+`(2, 1, 'primary', 1, 3, NULL, 1, 1, 1, 'image/png', 'p')`,
		insertAsset+`(3, 1, 'thumbnail', NULL, NULL, NULL, 1, 1, 1, 'image/png', 't')`,
	)

	tests := []struct {
		name string
		args []string
		want int
	}{
		{name: "verify with adjacency", args: []string{"verify", "--dsn", healthy}, want: exitOK},
		{name: "verify strict", args: []string{"verify", "--dsn", healthy, "--adjacency=false"}, want: exitViolations},
		{name: "backfill", args: []string{"backfill", "--dsn", healthy, "--parent", "1"}, want: exitOK},
		{name: "verify strict after backfill", args: []string{"verify", "--dsn", healthy, "--adjacency=false"}, want: exitOK},
		{name: "unsupported driver", args: []string{"verify", "--db", "oracle", "--dsn", "x"}, want: exitError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			code := -1
			root := newRootCmd(&out, &code)
			root.SetArgs(tt.args)

			require.NoError(t, root.Execute())
			assert.Equal(t, tt.want, code)
			if tt.want != exitError {
				var reports []collection.Report
				require.NoError(t, json.Unmarshal(out.Bytes(), &reports))
				assert.Len(t, reports, 1)
			}
		})
	}
}

func TestRootCommand_RejectsUnknownSubcommand(t *testing.T) {
	code := exitOK
	root := newRootCmd(io.Discard, &code)
	root.SetArgs([]string{"repair"})
	root.SetErr(io.Discard)

	if err := root.Execute(); err == nil {
		t.Fatalf("expected an error for an unknown subcommand")
	}
}
