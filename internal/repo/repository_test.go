package repo_test

import (
	"testing"

	"github.com/hamed0406/opsmonitor/internal/repo"
	"github.com/hamed0406/opsmonitor/internal/repo/memory"
	pg "github.com/hamed0406/opsmonitor/internal/repo/postgres"
	"github.com/hamed0406/opsmonitor/internal/repo/sqlite"
)

// Compile-time interface satisfaction checks.
// Using external test package avoids import cycle.
func TestInterfaceSatisfaction(t *testing.T) {
	var _ repo.Store = memory.New()
	var _ repo.Store = (*pg.Store)(nil)
	var _ repo.Store = (*sqlite.Store)(nil)
}

func TestLogFilter_EffectiveLimit(t *testing.T) {
	if got := (repo.LogFilter{}).EffectiveLimit(); got != repo.DefaultLogLimit {
		t.Fatalf("want default %d, got %d", repo.DefaultLogLimit, got)
	}
	if got := (repo.LogFilter{Limit: 7}).EffectiveLimit(); got != 7 {
		t.Fatalf("want 7, got %d", got)
	}
}
