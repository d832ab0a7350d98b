package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hamed0406/opsmonitor/internal/domain"
	"github.com/hamed0406/opsmonitor/internal/repo"
)

func TestMemoryStore_AddAndListTargets(t *testing.T) {
	ctx := context.Background()
	s := New()

	tgt := &domain.Target{Name: "GitHub API", URL: "https://api.github.com", Active: true}
	if err := s.Add(ctx, tgt); err != nil {
		t.Fatalf("Add target: %v", err)
	}
	if tgt.ID == "" {
		t.Fatalf("expected target ID to be set")
	}
	if tgt.Status != domain.StatusUnknown || tgt.Kind != domain.KindHTTP || tgt.ExpectedStatus != 200 {
		t.Fatalf("defaults not applied: %+v", tgt)
	}

	all, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 1 || all[0].URL != "https://api.github.com" {
		t.Fatalf("unexpected list: %+v", all)
	}
}

func TestMemoryStore_ListActiveSkipsInactive(t *testing.T) {
	ctx := context.Background()
	s := New()
	_ = s.Add(ctx, &domain.Target{Name: "a", URL: "https://a", Active: true})
	_ = s.Add(ctx, &domain.Target{Name: "b", URL: "https://b", Active: false})

	active, err := s.ListActive(ctx)
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	if len(active) != 1 || active[0].Name != "a" {
		t.Fatalf("unexpected active: %+v", active)
	}
}

func TestMemoryStore_CommitCycle(t *testing.T) {
	ctx := context.Background()
	s := New()
	tgt := &domain.Target{Name: "a", URL: "https://a", Active: true}
	_ = s.Add(ctx, tgt)

	now := time.Now().UTC()
	err := s.CommitCycle(ctx, repo.Batch{
		Updates: []domain.TargetUpdate{
			{ID: tgt.ID, Status: domain.StatusOnline, ResponseTimeMS: domain.Float64(12.5), CheckedAt: now},
			{ID: "deleted", Status: domain.StatusOffline, CheckedAt: now},
		},
		Logs: []domain.LogEntry{{Level: domain.LevelInfo, Source: domain.SourceHealthChecker, Message: "m"}},
	})
	if err != nil {
		t.Fatalf("CommitCycle: %v", err)
	}

	got, err := s.Get(ctx, tgt.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != domain.StatusOnline || got.ResponseTimeMS == nil || *got.ResponseTimeMS != 12.5 || got.LastChecked == nil {
		t.Fatalf("update not applied: %+v", got)
	}
	if _, err := s.Get(ctx, "deleted"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("deleted target must not be resurrected, err=%v", err)
	}

	logs, _ := s.ListLogs(ctx, repo.LogFilter{})
	if len(logs) != 1 || logs[0].ID == 0 || logs[0].Timestamp.IsZero() {
		t.Fatalf("unexpected logs: %+v", logs)
	}
}

func TestMemoryStore_UpdateKeepsProbeFields(t *testing.T) {
	ctx := context.Background()
	s := New()
	tgt := &domain.Target{Name: "a", URL: "https://a", Active: true}
	_ = s.Add(ctx, tgt)
	_ = s.SetStatus(ctx, domain.TargetUpdate{ID: tgt.ID, Status: domain.StatusDegraded, CheckedAt: time.Now()})

	edit := &domain.Target{ID: tgt.ID, Name: "renamed", URL: "https://a", Kind: domain.KindTCP, Active: false}
	if err := s.Update(ctx, edit); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if edit.Status != domain.StatusDegraded || edit.Name != "renamed" || edit.Kind != domain.KindTCP {
		t.Fatalf("unexpected after update: %+v", edit)
	}

	if err := s.Update(ctx, &domain.Target{ID: "missing"}); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_DeleteAndSetStatusMissing(t *testing.T) {
	ctx := context.Background()
	s := New()
	tgt := &domain.Target{Name: "a", URL: "https://a"}
	_ = s.Add(ctx, tgt)

	if err := s.Delete(ctx, tgt.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(ctx, tgt.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("second delete: want ErrNotFound, got %v", err)
	}
	if err := s.SetStatus(ctx, domain.TargetUpdate{ID: tgt.ID, Status: domain.StatusOnline}); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("SetStatus on deleted: want ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_LogFilters(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Date(2025, 8, 18, 12, 0, 0, 0, time.UTC)
	rows := []domain.LogEntry{
		{Timestamp: base, Level: domain.LevelInfo, Source: "health-checker", Message: "1"},
		{Timestamp: base.Add(time.Minute), Level: domain.LevelCritical, Source: "health-checker", Message: "2"},
		{Timestamp: base.Add(2 * time.Minute), Level: domain.LevelInfo, Source: "api", Message: "3"},
	}
	for i := range rows {
		if err := s.AppendLog(ctx, &rows[i]); err != nil {
			t.Fatalf("AppendLog: %v", err)
		}
	}

	all, _ := s.ListLogs(ctx, repo.LogFilter{})
	if len(all) != 3 || all[0].Message != "3" {
		t.Fatalf("want newest first, got %+v", all)
	}
	crit, _ := s.ListLogs(ctx, repo.LogFilter{Level: domain.LevelCritical})
	if len(crit) != 1 || crit[0].Message != "2" {
		t.Fatalf("level filter: %+v", crit)
	}
	hc, _ := s.ListLogs(ctx, repo.LogFilter{Source: "health-checker", Limit: 1})
	if len(hc) != 1 || hc[0].Message != "2" {
		t.Fatalf("source+limit filter: %+v", hc)
	}
	src, _ := s.LogSources(ctx)
	if len(src) != 2 || src[0] != "api" || src[1] != "health-checker" {
		t.Fatalf("sources: %v", src)
	}
}
