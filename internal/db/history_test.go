// Copyright (c) 2026 ToeiRei
// nixdeploy - NixOS flake deployment over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/toeirei/nixdeploy/internal/model"
)

func openMem(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), TypeSQLite, ":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func rec(host string, status model.DeploymentStatus, started time.Time) model.DeploymentRecord {
	return model.DeploymentRecord{
		Host:          host,
		Endpoint:      "10.0.0.5:22",
		User:          "root",
		Action:        model.ActionSwitch,
		Status:        status,
		ArchiveDigest: "abc123",
		StartedAt:     started,
		FinishedAt:    started.Add(42 * time.Second),
	}
}

func TestRecordAndList(t *testing.T) {
	s := openMem(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	failed := rec("web2", model.StatusFailed, base.Add(time.Minute))
	failed.FailedState = "rebuilding"
	failed.Error = "`sudo nixos-rebuild switch` returned exit status 1"
	for _, r := range []model.DeploymentRecord{
		rec("web1", model.StatusSuccess, base),
		failed,
		rec("web1", model.StatusSkipped, base.Add(2*time.Minute)),
	} {
		if err := s.Record(ctx, r); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	all, err := s.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len = %d", len(all))
	}
	if all[0].Status != model.StatusSkipped || all[2].Status != model.StatusSuccess {
		t.Fatalf("order = %v, %v, %v", all[0].Status, all[1].Status, all[2].Status)
	}
	if all[1].FailedState != "rebuilding" || all[1].Error == "" {
		t.Fatalf("failure fields lost: %+v", all[1])
	}
	if d := all[2].Duration(); d != 42*time.Second {
		t.Fatalf("duration = %s", d)
	}

	web1, err := s.List(ctx, Filter{Host: "web1", Limit: 1})
	if err != nil {
		t.Fatalf("List(web1): %v", err)
	}
	if len(web1) != 1 || web1[0].Host != "web1" || web1[0].Status != model.StatusSkipped {
		t.Fatalf("filtered = %+v", web1)
	}
}

func TestLastSuccess(t *testing.T) {
	s := openMem(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	got, err := s.LastSuccess(ctx, "web1")
	if err != nil || got != nil {
		t.Fatalf("LastSuccess(empty) = %v, %v", got, err)
	}
	_ = s.Record(ctx, rec("web1", model.StatusSuccess, base))
	_ = s.Record(ctx, rec("web1", model.StatusSuccess, base.Add(time.Hour)))
	_ = s.Record(ctx, rec("web1", model.StatusFailed, base.Add(2*time.Hour)))

	got, err = s.LastSuccess(ctx, "web1")
	if err != nil || got == nil {
		t.Fatalf("LastSuccess = %v, %v", got, err)
	}
	if !got.StartedAt.Equal(base.Add(time.Hour)) {
		t.Fatalf("StartedAt = %s", got.StartedAt)
	}
}

func TestOpen_FileIsReusable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	ctx := context.Background()

	s, err := Open(ctx, TypeSQLite, path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Record(ctx, rec("web1", model.StatusSuccess, time.Now())); err != nil {
		t.Fatalf("Record: %v", err)
	}
	_ = s.Close()

	s, err = Open(ctx, TypeSQLite, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	rows, err := s.List(ctx, Filter{})
	if err != nil || len(rows) != 1 {
		t.Fatalf("List after reopen = %v, %v", rows, err)
	}
}

func TestOpen_Errors(t *testing.T) {
	if _, err := Open(context.Background(), "oracle", "x"); err == nil {
		t.Fatalf("expected unsupported type error")
	}

	orig := sqlOpenFunc
	defer func() { sqlOpenFunc = orig }()
	var gotDriver string
	sqlOpenFunc = func(driver, dsn string) (*sql.DB, error) {
		gotDriver = driver
		return nil, errors.New("boom")
	}
	if _, err := Open(context.Background(), TypePostgres, "postgres://x"); err == nil {
		t.Fatalf("expected open error")
	}
	if gotDriver != "pgx" {
		t.Fatalf("postgres mapped to driver %q, want pgx", gotDriver)
	}
}
