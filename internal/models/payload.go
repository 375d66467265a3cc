// Clubpush - Sports Club Push Notification Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clubpush

package models

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidPayload is returned when a notification payload cannot be delivered as built.
var ErrInvalidPayload = errors.New("invalid notification payload")

// NotificationPayload is the content delivered to a device. It is a value type
// and is never mutated after construction.
//
// The JSON form is the Direct Push wire payload: {title, body, url, icon?}.
type NotificationPayload struct {
	Title string `json:"title" validate:"required,max=200"`
	Body  string `json:"body" validate:"max=2000"`
	URL   string `json:"url" validate:"omitempty,max=2048"`
	Icon  string `json:"icon,omitempty" validate:"omitempty,max=2048"`
}

// Validate reports whether the payload is deliverable.
func (p NotificationPayload) Validate() error {
	if strings.TrimSpace(p.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidPayload)
	}
	return nil
}
