package storage

import (
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// Reopening a file database must not re-apply migrations.
func TestOpen_ReopenKeepsMigrations(t *testing.T) {
	dir := t.TempDir()

	var counts []int
	for i := 0; i < 2; i++ {
		s, err := Open(dir)
		if err != nil {
			t.Fatalf("Open #%d: %v", i, err)
		}
		versions, err := s.AppliedMigrations()
		s.Close()
		if err != nil {
			t.Fatalf("AppliedMigrations #%d: %v", i, err)
		}
		if len(versions) == 0 {
			t.Fatalf("Open #%d applied no migrations", i)
		}
		for j := 1; j < len(versions); j++ {
			if versions[j] <= versions[j-1] {
				t.Errorf("versions not ascending: %v", versions)
			}
		}
		counts = append(counts, len(versions))
	}
	if counts[0] != counts[1] {
		t.Errorf("migration count changed on reopen: %d -> %d", counts[0], counts[1])
	}
}

func TestSchemaObjects(t *testing.T) {
	s := openTestStore(t)

	objects := map[string]string{
		"posts":                     "table",
		"post_meta":                 "table",
		"users":                     "table",
		"categories":                "table",
		"post_categories":           "table",
		"post_coauthors":            "table",
		"jobs":                      "table",
		"idx_posts_type_status":     "index",
		"idx_posts_modified":        "index",
		"idx_post_meta_post_key":    "index",
		"idx_post_meta_key_value":   "index",
		"idx_jobs_status_run_after": "index",
		"idx_jobs_type_key":         "index",
		"post_locks":                "table",
	}
	for name, typ := range objects {
		var n int
		if err := s.db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = ? AND name = ?`, typ, name).Scan(&n); err != nil {
			t.Fatalf("looking up %s %s: %v", typ, name, err)
		}
		if n != 1 {
			t.Errorf("%s %s missing", typ, name)
		}
	}
}

func TestPlaceholders(t *testing.T) {
	for n, want := range map[int]string{0: "", 1: "?", 3: "?,?,?"} {
		if got := placeholders(n); got != want {
			t.Errorf("placeholders(%d) = %q, want %q", n, got, want)
		}
	}
}

func TestPostLease(t *testing.T) {
	s := openTestStore(t)

	ok, err := s.AcquirePostLease(5, "a", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first acquire = %v, %v; want true", ok, err)
	}
	if ok, _ := s.AcquirePostLease(5, "b", time.Minute); ok {
		t.Error("second owner took a live lease")
	}
	if ok, _ := s.AcquirePostLease(5, "a", time.Minute); !ok {
		t.Error("holder could not renew its lease")
	}
	if ok, _ := s.AcquirePostLease(6, "b", time.Minute); !ok {
		t.Error("lease on another post blocked")
	}

	if err := s.ReleasePostLease(5, "b"); err != nil {
		t.Fatalf("ReleasePostLease(b): %v", err)
	}
	if ok, _ := s.AcquirePostLease(5, "b", time.Minute); ok {
		t.Error("release by a non-holder freed the lease")
	}
	if err := s.ReleasePostLease(5, "a"); err != nil {
		t.Fatalf("ReleasePostLease(a): %v", err)
	}
	if ok, _ := s.AcquirePostLease(5, "b", time.Minute); !ok {
		t.Error("released lease not available")
	}
}

func TestPostLease_ExpiredIsTakenOver(t *testing.T) {
	s := openTestStore(t)

	if ok, err := s.AcquirePostLease(5, "crashed", -time.Second); err != nil || !ok {
		t.Fatalf("acquire = %v, %v", ok, err)
	}
	if ok, _ := s.AcquirePostLease(5, "next", time.Minute); !ok {
		t.Error("expired lease was not taken over")
	}
}

// Leases are shared by every handle on the same database file.
func TestPostLease_AcrossHandles(t *testing.T) {
	dir := t.TempDir()
	a, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	b, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	if ok, _ := a.AcquirePostLease(9, "proc-a", time.Minute); !ok {
		t.Fatal("acquire on a failed")
	}
	if ok, _ := b.AcquirePostLease(9, "proc-b", time.Minute); ok {
		t.Error("second handle took a lease held through the first")
	}
}
