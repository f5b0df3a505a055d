package ruleseed

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/starford/tgmonitor/internal/models"
	"github.com/starford/tgmonitor/internal/rulecache"
	"github.com/starford/tgmonitor/internal/rulestore"
	"github.com/starford/tgmonitor/internal/ruleservice"
	"github.com/starford/tgmonitor/internal/testutil"
)

const seedYAML = `
keywords:
  - content: 你好世界
    match_type: contains
    action: monitor
    style:
      bold: true
  - content: "@spammer"
    match_type: User
    action: 0
  - content: "   "
  - content: "\\d{11}"
    match_type: 2
    case_sensitive: true
`

func setup(t *testing.T) (*rulestore.DB, *rulecache.Cache, *ruleservice.Service, string) {
	t.Helper()
	db := testutil.TestDB(t)
	cache := rulecache.New(db, testutil.Logger())
	svc := ruleservice.NewService(db, cache, testutil.Logger())
	path := filepath.Join(t.TempDir(), "keywords.yaml")
	return db, cache, svc, path
}

func TestImport(t *testing.T) {
	db, cache, svc, path := setup(t)
	if err := os.WriteFile(path, []byte(seedYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	s := New(path, svc, db, testutil.Logger())
	ctx := context.Background()

	res, err := s.Import(ctx)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if res.Added != 3 || res.Unchanged {
		t.Fatalf("Import = %+v", res)
	}

	rules, _ := db.List(ctx)
	byContent := map[string]models.KeywordRule{}
	for _, r := range rules {
		byContent[r.Content] = r
	}
	if r := byContent["@spammer"]; r.MatchType != models.MatchUser || r.Action != models.ActionExclude {
		t.Errorf("legacy enums not parsed: %+v", r)
	}
	if r := byContent[`\d{11}`]; r.MatchType != models.MatchRegex || !r.CaseSensitive {
		t.Errorf("ordinal match type not parsed: %+v", r)
	}
	if r := byContent["你好世界"]; !r.Style.Bold || r.Action != models.ActionMonitor {
		t.Errorf("style not parsed: %+v", r)
	}
	if len(cache.Active().MatchText("电话13812345678")) != 1 {
		t.Error("cache not refreshed by import")
	}

	res, err = s.Import(ctx)
	if err != nil || !res.Unchanged {
		t.Errorf("second Import = %+v, %v; want unchanged", res, err)
	}
}

func TestImportSkipsDuplicatesOnChange(t *testing.T) {
	db, _, svc, path := setup(t)
	_ = os.WriteFile(path, []byte(seedYAML), 0o644)
	s := New(path, svc, db, testutil.Logger())
	ctx := context.Background()
	if _, err := s.Import(ctx); err != nil {
		t.Fatal(err)
	}

	// Same rules, different bytes: checksum changes, every rule is a duplicate.
	_ = os.WriteFile(path, []byte(seedYAML+"\n# touched\n"), 0o644)
	res, err := s.Import(ctx)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if res.Added != 0 || res.Skipped != 3 {
		t.Errorf("Import = %+v, want 0 added, 3 skipped", res)
	}
}

func TestImportErrors(t *testing.T) {
	db, _, svc, path := setup(t)
	s := New(path, svc, db, testutil.Logger())
	if _, err := s.Import(context.Background()); err == nil {
		t.Error("missing file should fail")
	}
	_ = os.WriteFile(path, []byte("keywords: [unterminated"), 0o644)
	if _, err := s.Import(context.Background()); err == nil {
		t.Error("bad yaml should fail")
	}
}

func TestWatchReimportsOnChange(t *testing.T) {
	db, cache, svc, path := setup(t)
	_ = os.WriteFile(path, []byte("keywords: []\n"), 0o644)
	s := New(path, svc, db, testutil.Logger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var imports atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- s.Watch(ctx, func(Result) { imports.Add(1) })
	}()
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(path, []byte("keywords:\n  - content: fresh\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	testutil.Eventually(t, 3*time.Second, func() bool {
		return len(cache.Active().MatchText("something fresh")) == 1
	}, "watcher did not import the new rule")

	// Unrelated files in the same directory are ignored.
	_ = os.WriteFile(filepath.Join(filepath.Dir(path), "other.yaml"), []byte("x"), 0o644)
	time.Sleep(400 * time.Millisecond)
	if n := imports.Load(); n != 1 {
		t.Errorf("imports = %d, want 1", n)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Watch returned %v", err)
	}
}
