package main

import (
	"time"

	"paramforge/backend"
	"paramforge/backend/httpsink"
	"paramforge/backend/logsink"
	"paramforge/blackboard"
	"paramforge/telemetry/logging"
)

// registerBackends wires both concrete backends (backend.httpsink and
// backend.logsink) for both endiannesses. structure.xml's per-subsystem
// Type attribute selects one of these four names directly; the suffix
// carries the endianness because backend.Factory takes no arguments
// and resolution is purely by the declared Type string, so an HTTP
// sink serving a big-endian subsystem and one serving a
// little-endian subsystem are registered as distinct factories rather
// than one parameterized by the structure it will later see).
func registerBackends(reg *backend.Registry, logger logging.Logger, httpTimeout time.Duration) {
	reg.Register("httpsink-little", func() backend.Backend { return httpsink.New(blackboard.Little, httpTimeout) })
	reg.Register("httpsink-big", func() backend.Backend { return httpsink.New(blackboard.Big, httpTimeout) })
	reg.Register("logsink-little", func() backend.Backend { return logsink.New(blackboard.Little, logger.With("logsink")) })
	reg.Register("logsink-big", func() backend.Backend { return logsink.New(blackboard.Big, logger.With("logsink")) })
}
