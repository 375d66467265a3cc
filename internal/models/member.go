// Clubpush - Sports Club Push Notification Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clubpush

package models

import (
	"fmt"
	"sort"
	"strings"
)

// Well-known club roles.
const (
	RoleAdmin   = "admin"
	RoleOrga    = "orga"
	RoleTrainer = "trainer"
	RoleCoach   = "coach"
	RoleMember  = "member"
	RoleParent  = "parent"
)

// DefaultStaffRoles is the elevated role set behind the "all staff" shorthand.
var DefaultStaffRoles = []string{RoleAdmin, RoleOrga, RoleTrainer, RoleCoach}

// Member is the directory entity notifications are addressed to.
type Member struct {
	ID      int64    `json:"id"`
	Name    string   `json:"name"`
	Active  bool     `json:"active"`
	Roles   []string `json:"roles"`
	TeamIDs []int64  `json:"team_ids,omitempty"`
}

// LogicalID returns the provider-addressable identifier for a member.
func LogicalID(memberID int64) string {
	return fmt.Sprintf("member_%d", memberID)
}

// NormalizeRoles turns any mix of role values into one lower-case, de-duplicated,
// sorted role-set. Legacy rows store roles as a single comma-joined string, newer
// rows as an array; both shapes pass through here at the data-access boundary.
//
//	NormalizeRoles("Admin, orga")            -> [admin orga]
//	NormalizeRoles("trainer", "ADMIN,admin") -> [admin trainer]
func NormalizeRoles(values ...string) []string {
	seen := make(map[string]struct{})
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			role := strings.ToLower(strings.TrimSpace(part))
			if role == "" {
				continue
			}
			seen[role] = struct{}{}
		}
	}

	roles := make([]string, 0, len(seen))
	for role := range seen {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	return roles
}

// HasAnyRole reports whether the member holds at least one of the given roles,
// compared case-insensitively.
func (m Member) HasAnyRole(roles ...string) bool {
	want := NormalizeRoles(roles...)
	have := NormalizeRoles(m.Roles...)
	for _, w := range want {
		for _, h := range have {
			if w == h {
				return true
			}
		}
	}
	return false
}
