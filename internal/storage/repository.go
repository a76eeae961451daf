package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/micro-ha/minirack-dashboard/internal/model"
	"github.com/micro-ha/minirack-dashboard/internal/persistence"
)

const (
	combinedScope        = "combined"
	seriesConnectedUsers = "connected_users"
	seriesSignalAvg      = "signal_strength_avg"
)

// WriteHistory replaces the stored history in one transaction.
func (r *Repository) WriteHistory(ctx context.Context, h model.History) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`DELETE FROM history_points;`,
		`DELETE FROM history_networks;`,
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("clear history: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO history_meta (id, saved_at) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET saved_at=excluded.saved_at`,
		h.SavedAt.UTC().Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("write history meta: %w", err)
	}

	networkStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO history_networks (network_id, name, device_count, last_successful_update)
		VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer networkStmt.Close()

	pointStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO history_points (scope, series, ts, value)
		VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer pointStmt.Close()

	writeSeries := func(scope string, s model.Series) error {
		for name, points := range map[string][]model.Point{
			seriesConnectedUsers: s.ConnectedUsers,
			seriesSignalAvg:      s.SignalStrengthAvg,
		} {
			for _, p := range points {
				if _, err := pointStmt.ExecContext(ctx, scope, name, p.Timestamp.UTC().Format(time.RFC3339Nano), p.Value); err != nil {
					return fmt.Errorf("write %s/%s point: %w", scope, name, err)
				}
			}
		}
		return nil
	}

	for id, nh := range h.Networks {
		if _, err := networkStmt.ExecContext(ctx, id, nh.Name, nh.DeviceCount, fromTimePtr(nh.LastSuccessfulUpdate)); err != nil {
			return fmt.Errorf("write network %s: %w", id, err)
		}
		if err := writeSeries(id, nh.Series); err != nil {
			return err
		}
	}
	if err := writeSeries(combinedScope, h.Combined); err != nil {
		return err
	}
	return tx.Commit()
}

// ReadHistory loads the stored history, or persistence.ErrNoHistory when empty.
func (r *Repository) ReadHistory(ctx context.Context) (model.History, error) {
	var savedAt string
	err := r.db.QueryRowContext(ctx, `SELECT saved_at FROM history_meta WHERE id = 1`).Scan(&savedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.History{}, persistence.ErrNoHistory
	}
	if err != nil {
		return model.History{}, err
	}
	saved, err := time.Parse(time.RFC3339Nano, savedAt)
	if err != nil {
		return model.History{}, fmt.Errorf("parse saved_at: %w", err)
	}

	h := model.History{SavedAt: saved.UTC(), Networks: map[string]model.NetworkHistory{}}

	rows, err := r.db.QueryContext(ctx, `SELECT network_id, name, device_count, last_successful_update FROM history_networks`)
	if err != nil {
		return model.History{}, err
	}
	for rows.Next() {
		var (
			id          string
			nh          model.NetworkHistory
			lastSuccess sql.NullString
		)
		if err := rows.Scan(&id, &nh.Name, &nh.DeviceCount, &lastSuccess); err != nil {
			rows.Close()
			return model.History{}, err
		}
		nh.LastSuccessfulUpdate = toTimePtr(lastSuccess)
		h.Networks[id] = nh
	}
	if err := rows.Close(); err != nil {
		return model.History{}, err
	}

	points, err := r.db.QueryContext(ctx, `SELECT scope, series, ts, value FROM history_points ORDER BY rowid`)
	if err != nil {
		return model.History{}, err
	}
	defer points.Close()
	for points.Next() {
		var (
			scope, series, ts string
			value             float64
		)
		if err := points.Scan(&scope, &series, &ts, &value); err != nil {
			return model.History{}, err
		}
		at, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			r.logger.Warn("skipping history point with bad timestamp", "scope", scope, "ts", ts)
			continue
		}
		p := model.Point{Timestamp: at.UTC(), Value: value}

		if scope == combinedScope {
			appendPoint(&h.Combined, series, p)
			continue
		}
		nh, ok := h.Networks[scope]
		if !ok {
			continue
		}
		appendPoint(&nh.Series, series, p)
		h.Networks[scope] = nh
	}
	return h, points.Err()
}

func appendPoint(s *model.Series, series string, p model.Point) {
	switch series {
	case seriesConnectedUsers:
		s.ConnectedUsers = append(s.ConnectedUsers, p)
	case seriesSignalAvg:
		s.SignalStrengthAvg = append(s.SignalStrengthAvg, p)
	}
}
