// Clubpush - Sports Club Push Notification Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clubpush

/*
Package supervisor provides process supervision for clubpush using suture v4.

# Overview

Long-running services are grouped into two layers so that a failure in one
does not restart the other:

	RootSupervisor ("clubpush")
	├── DeliverySupervisor ("delivery-layer")
	│   ├── delivery.Queue (dispatch consumer)
	│   ├── PeriodicService "dedup-maintenance" (memory/badger backends)
	│   └── PeriodicService "subscription-gauge"
	└── APISupervisor ("api-layer")
	    └── HTTPServerService

The database handle is not supervised. It is opened before the tree starts
and closed after it stops.

# Usage

	tree, err := supervisor.NewSupervisorTree(slogLogger, supervisor.DefaultTreeConfig())
	if err != nil {
	    return err
	}
	tree.AddDeliveryService(queue)
	tree.AddAPIService(services.NewHTTPServerService(server, 10*time.Second))

	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
	    return err
	}

# Failure Handling

Each failure increments a counter that decays over FailureDecay seconds.
Above FailureThreshold the supervisor waits FailureBackoff before the next
restart. Services return ctx.Err() on shutdown; any other return value is a
crash and triggers a restart.

Supervisor events are logged through sutureslog, which writes to the slog
adapter over the global zerolog logger.

# Debugging Shutdown Issues

UnstoppedServiceReport lists services that did not return within
ShutdownTimeout. The usual cause is a blocking call that ignores its context.
*/
package supervisor
