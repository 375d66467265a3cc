// Clubpush - Sports Club Push Notification Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clubpush

// Package audience turns a targeting spec into the member ids a notification
// should reach.
package audience

import (
	"context"
	"fmt"

	"github.com/tomtom215/clubpush/internal/models"
)

// MemberDirectory answers membership queries. Implemented by *database.DB.
type MemberDirectory interface {
	MemberIDsByRoles(ctx context.Context, roles []string) ([]int64, error)
	MemberIDsByTeams(ctx context.Context, teamIDs []int64) ([]int64, error)
}

// Resolver resolves targeting specs against a MemberDirectory. It holds no
// state between calls; every Resolve queries the directory again.
type Resolver struct {
	directory  MemberDirectory
	staffRoles []string
}

// NewResolver creates a resolver. staffRoles backs the "all staff" shorthand;
// nil selects models.DefaultStaffRoles.
func NewResolver(directory MemberDirectory, staffRoles []string) *Resolver {
	roles := models.NormalizeRoles(staffRoles...)
	if len(roles) == 0 {
		roles = models.NormalizeRoles(models.DefaultStaffRoles...)
	}
	return &Resolver{directory: directory, staffRoles: roles}
}

// StaffRoles returns the normalized role set behind the "all staff" shorthand.
func (r *Resolver) StaffRoles() []string {
	return append([]string(nil), r.staffRoles...)
}

// Resolve returns the deduplicated member ids selected by spec. An empty result
// is not an error. An invalid spec returns models.ErrInvalidTarget.
func (r *Resolver) Resolve(ctx context.Context, spec models.TargetingSpec) ([]int64, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	var (
		ids []int64
		err error
	)
	switch spec.Kind() {
	case models.TargetMembers:
		return dedupe(spec.MemberIDs), nil
	case models.TargetRoles:
		roles := models.NormalizeRoles(spec.Roles...)
		if len(roles) == 0 {
			return nil, fmt.Errorf("%w: role filter is blank", models.ErrInvalidTarget)
		}
		ids, err = r.directory.MemberIDsByRoles(ctx, roles)
	case models.TargetTeams:
		ids, err = r.directory.MemberIDsByTeams(ctx, spec.TeamIDs)
	case models.TargetAllStaff:
		ids, err = r.directory.MemberIDsByRoles(ctx, r.staffRoles)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s audience: %w", spec.Kind(), err)
	}
	return dedupe(ids), nil
}

// dedupe drops repeats and non-positive ids, keeping first-appearance order.
func dedupe(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id <= 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
