// Clubpush - Sports Club Push Notification Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clubpush

package models

import (
	"errors"
	"fmt"
)

// ErrInvalidTarget is returned for a targeting spec that selects nothing or more than one thing.
var ErrInvalidTarget = errors.New("invalid targeting spec")

// TargetKind names the selector a TargetingSpec uses.
type TargetKind string

const (
	// TargetMembers addresses an explicit list of member ids.
	TargetMembers TargetKind = "members"

	// TargetRoles addresses every member holding any of the given roles.
	TargetRoles TargetKind = "roles"

	// TargetTeams addresses every active member of any of the given teams.
	TargetTeams TargetKind = "teams"

	// TargetAllStaff addresses the fixed elevated-role set (admins, organisers, coaches).
	TargetAllStaff TargetKind = "all_staff"
)

// TargetingSpec describes who should receive a notification. Exactly one selector
// must be set. A spec is resolved once per dispatch and never cached.
type TargetingSpec struct {
	MemberIDs []int64  `json:"member_ids,omitempty"`
	Roles     []string `json:"roles,omitempty"`
	TeamIDs   []int64  `json:"team_ids,omitempty"`
	AllStaff  bool     `json:"all_staff,omitempty"`
}

// ForMembers builds a spec addressing explicit member ids.
func ForMembers(ids ...int64) TargetingSpec {
	return TargetingSpec{MemberIDs: ids}
}

// ForRoles builds a spec addressing members by role.
func ForRoles(roles ...string) TargetingSpec {
	return TargetingSpec{Roles: roles}
}

// ForTeams builds a spec addressing active members of the given teams.
func ForTeams(ids ...int64) TargetingSpec {
	return TargetingSpec{TeamIDs: ids}
}

// ForAllStaff builds the "all staff" shorthand spec.
func ForAllStaff() TargetingSpec {
	return TargetingSpec{AllStaff: true}
}

// Kind returns the selector in use. Call Validate first; Kind on an invalid spec
// returns the first selector found.
func (t TargetingSpec) Kind() TargetKind {
	switch {
	case len(t.MemberIDs) > 0:
		return TargetMembers
	case len(t.Roles) > 0:
		return TargetRoles
	case len(t.TeamIDs) > 0:
		return TargetTeams
	case t.AllStaff:
		return TargetAllStaff
	default:
		return ""
	}
}

// Validate checks that exactly one selector is set.
func (t TargetingSpec) Validate() error {
	set := 0
	if len(t.MemberIDs) > 0 {
		set++
	}
	if len(t.Roles) > 0 {
		set++
	}
	if len(t.TeamIDs) > 0 {
		set++
	}
	if t.AllStaff {
		set++
	}

	switch set {
	case 0:
		return fmt.Errorf("%w: no selector set", ErrInvalidTarget)
	case 1:
		return nil
	default:
		return fmt.Errorf("%w: %d selectors set, want exactly one", ErrInvalidTarget, set)
	}
}
