// Copyright (c) 2026 ToeiRei
// nixdeploy - NixOS flake deployment over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"context"
	"fmt"
	"time"

	"github.com/toeirei/nixdeploy/internal/model"
	"github.com/uptrace/bun"
)

// DeploymentModel maps the deployments table.
type DeploymentModel struct {
	bun.BaseModel `bun:"table:deployments"`
	ID            int       `bun:"id,pk,autoincrement"`
	Host          string    `bun:"host,notnull"`
	Endpoint      string    `bun:"endpoint,notnull"`
	User          string    `bun:"username,notnull"`
	Action        string    `bun:"action,notnull"`
	Status        string    `bun:"status,notnull"`
	FailedState   string    `bun:"failed_state"`
	Error         string    `bun:"error,type:text"`
	ArchiveDigest string    `bun:"archive_digest"`
	Output        string    `bun:"output,type:text"`
	StartedAt     time.Time `bun:"started_at,notnull"`
	FinishedAt    time.Time `bun:"finished_at,notnull"`
}

func deploymentToModel(r model.DeploymentRecord) DeploymentModel {
	return DeploymentModel{
		Host:          r.Host,
		Endpoint:      r.Endpoint,
		User:          r.User,
		Action:        string(r.Action),
		Status:        string(r.Status),
		FailedState:   r.FailedState,
		Error:         r.Error,
		ArchiveDigest: r.ArchiveDigest,
		Output:        r.Output,
		StartedAt:     r.StartedAt.UTC(),
		FinishedAt:    r.FinishedAt.UTC(),
	}
}

func (m DeploymentModel) toRecord() model.DeploymentRecord {
	return model.DeploymentRecord{
		ID:            m.ID,
		Host:          m.Host,
		Endpoint:      m.Endpoint,
		User:          m.User,
		Action:        model.RebuildAction(m.Action),
		Status:        model.DeploymentStatus(m.Status),
		FailedState:   m.FailedState,
		Error:         m.Error,
		ArchiveDigest: m.ArchiveDigest,
		Output:        m.Output,
		StartedAt:     m.StartedAt,
		FinishedAt:    m.FinishedAt,
	}
}

// Record inserts one deployment outcome.
func (s *Store) Record(ctx context.Context, rec model.DeploymentRecord) error {
	m := deploymentToModel(rec)
	if _, err := s.bun.NewInsert().Model(&m).Exec(ctx); err != nil {
		return fmt.Errorf("failed to record deployment of %s: %w", rec.Host, err)
	}
	return nil
}

// Filter narrows a history listing.
type Filter struct {
	// Host restricts results to one inventory name when non-empty.
	Host string
	// Limit caps the number of rows; zero means no limit.
	Limit int
}

// List returns recorded deployments, newest first.
func (s *Store) List(ctx context.Context, f Filter) ([]model.DeploymentRecord, error) {
	var rows []DeploymentModel
	q := s.bun.NewSelect().Model(&rows).OrderExpr("started_at DESC, id DESC")
	if f.Host != "" {
		q = q.Where("host = ?", f.Host)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to list deployments: %w", err)
	}
	out := make([]model.DeploymentRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toRecord())
	}
	return out, nil
}

// LastSuccess returns the most recent successful deployment of host, or nil.
func (s *Store) LastSuccess(ctx context.Context, host string) (*model.DeploymentRecord, error) {
	var rows []DeploymentModel
	err := s.bun.NewSelect().Model(&rows).
		Where("host = ?", host).
		Where("status = ?", string(model.StatusSuccess)).
		OrderExpr("started_at DESC, id DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query last deployment of %s: %w", host, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	rec := rows[0].toRecord()
	return &rec, nil
}
