// Clubpush - Sports Club Push Notification Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clubpush

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/tomtom215/clubpush/internal/models"
)

const (
	membersTable     = "members"
	memberRolesTable = "member_roles"
	memberTeamsTable = "member_teams"
)

// UpsertMember writes a member together with its role and team assignments.
// Roles pass through models.NormalizeRoles, so legacy comma-joined values
// ("Admin, Orga") and role arrays end up as the same lower-case role set.
func (db *DB) UpsertMember(ctx context.Context, m models.Member) error {
	if m.ID <= 0 {
		return fmt.Errorf("member id must be positive, got %d", m.ID)
	}

	start := time.Now()
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		upsert := db.sb.Insert(membersTable).
			Columns("id", "name", "active", "updated_at").
			Values(m.ID, m.Name, m.Active, db.now().UnixMilli()).
			Suffix(`ON CONFLICT (id) DO UPDATE SET
				name = excluded.name,
				active = excluded.active,
				updated_at = excluded.updated_at`)
		if err := execBuilder(ctx, tx, upsert); err != nil {
			return fmt.Errorf("failed to upsert member: %w", err)
		}

		if err := execBuilder(ctx, tx, db.sb.Delete(memberRolesTable).Where(sq.Eq{"member_id": m.ID})); err != nil {
			return fmt.Errorf("failed to clear member roles: %w", err)
		}
		if roles := models.NormalizeRoles(m.Roles...); len(roles) > 0 {
			ins := db.sb.Insert(memberRolesTable).Columns("member_id", "role")
			for _, r := range roles {
				ins = ins.Values(m.ID, r)
			}
			if err := execBuilder(ctx, tx, ins); err != nil {
				return fmt.Errorf("failed to insert member roles: %w", err)
			}
		}

		if err := execBuilder(ctx, tx, db.sb.Delete(memberTeamsTable).Where(sq.Eq{"member_id": m.ID})); err != nil {
			return fmt.Errorf("failed to clear member teams: %w", err)
		}
		if teams := uniqueIDs(m.TeamIDs); len(teams) > 0 {
			ins := db.sb.Insert(memberTeamsTable).Columns("member_id", "team_id")
			for _, t := range teams {
				ins = ins.Values(m.ID, t)
			}
			if err := execBuilder(ctx, tx, ins); err != nil {
				return fmt.Errorf("failed to insert member teams: %w", err)
			}
		}
		return nil
	})
	observe("UPSERT", membersTable, start, err)
	return err
}

// SetMemberActive toggles a member's active flag.
func (db *DB) SetMemberActive(ctx context.Context, id int64, active bool) error {
	query, args, err := db.sb.Update(membersTable).
		Set("active", active).
		Set("updated_at", db.now().UnixMilli()).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build member update: %w", err)
	}

	start := time.Now()
	res, err := db.conn.ExecContext(ctx, query, args...)
	observe("UPDATE", membersTable, start, err)
	if err != nil {
		return fmt.Errorf("failed to update member: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetMember loads a member with its roles and teams.
func (db *DB) GetMember(ctx context.Context, id int64) (*models.Member, error) {
	query, args, err := db.sb.Select("id", "name", "active").
		From(membersTable).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build member query: %w", err)
	}

	start := time.Now()
	var m models.Member
	err = db.conn.QueryRowContext(ctx, query, args...).Scan(&m.ID, &m.Name, &m.Active)
	if errors.Is(err, sql.ErrNoRows) {
		observe("SELECT", membersTable, start, nil)
		return nil, ErrNotFound
	}
	observe("SELECT", membersTable, start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to get member: %w", err)
	}

	roles, err := db.queryStrings(ctx, db.sb.Select("role").From(memberRolesTable).Where(sq.Eq{"member_id": id}).OrderBy("role"))
	if err != nil {
		return nil, fmt.Errorf("failed to load member roles: %w", err)
	}
	m.Roles = roles

	teams, err := db.queryIDs(ctx, db.sb.Select("team_id").From(memberTeamsTable).Where(sq.Eq{"member_id": id}).OrderBy("team_id"))
	if err != nil {
		return nil, fmt.Errorf("failed to load member teams: %w", err)
	}
	m.TeamIDs = teams
	return &m, nil
}

// MemberIDsByRoles returns the ids of members holding any of roles. Comparison is
// case-insensitive because both stored and requested roles are normalized.
func (db *DB) MemberIDsByRoles(ctx context.Context, roles []string) ([]int64, error) {
	normalized := models.NormalizeRoles(roles...)
	if len(normalized) == 0 {
		return nil, nil
	}

	start := time.Now()
	ids, err := db.queryIDs(ctx, db.sb.Select("DISTINCT member_id").
		From(memberRolesTable).
		Where(sq.Eq{"role": normalized}).
		OrderBy("member_id"))
	observe("SELECT", memberRolesTable, start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to query members by role: %w", err)
	}
	return ids, nil
}

// MemberIDsByTeams returns the ids of active members assigned to any of teamIDs.
func (db *DB) MemberIDsByTeams(ctx context.Context, teamIDs []int64) ([]int64, error) {
	teams := uniqueIDs(teamIDs)
	if len(teams) == 0 {
		return nil, nil
	}

	start := time.Now()
	ids, err := db.queryIDs(ctx, db.sb.Select("DISTINCT mt.member_id").
		From(memberTeamsTable+" mt").
		Join(membersTable+" m ON m.id = mt.member_id").
		Where(sq.Eq{"mt.team_id": teams, "m.active": true}).
		OrderBy("mt.member_id"))
	observe("SELECT", memberTeamsTable, start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to query members by team: %w", err)
	}
	return ids, nil
}

func (db *DB) queryIDs(ctx context.Context, b sq.SelectBuilder) ([]int64, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer closeWithLog(rows, "rows")

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (db *DB) queryStrings(ctx context.Context, b sq.SelectBuilder) ([]string, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer closeWithLog(rows, "rows")

	out := []string{}
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// withTx runs fn in a transaction, committing on nil and rolling back otherwise.
func (db *DB) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func execBuilder(ctx context.Context, tx *sql.Tx, b sq.Sqlizer) error {
	query, args, err := b.ToSql()
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, query, args...)
	return err
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
