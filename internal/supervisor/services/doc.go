// Clubpush - Sports Club Push Notification Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clubpush

/*
Package services provides suture.Service wrappers for clubpush components.

Each wrapper translates a component's lifecycle into suture's
Serve(ctx) error contract and implements fmt.Stringer so supervisor events
name the service.

  - HTTPServerService: ListenAndServe plus graceful Shutdown
  - PeriodicService: runs a task on a ticker; task errors are logged, not fatal

The dispatch queue (delivery.Queue) implements suture.Service itself and is
added to the tree without a wrapper.
*/
package services
