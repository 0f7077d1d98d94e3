// Package logsink implements a write-only Backend that just logs dirty
// regions, useful for demos and tests that need a sync target with no
// external dependency.
package logsink

import (
	"context"
	"encoding/hex"

	"paramforge/backend"
	"paramforge/blackboard"
	"paramforge/telemetry/logging"
)

// Backend logs every Send through a logging.Logger.
type Backend struct {
	endian blackboard.Endianness
	logger logging.Logger
}

// New returns a logging-only Backend.
func New(endian blackboard.Endianness, logger logging.Logger) *Backend {
	if logger == nil {
		logger = logging.NewNoop()
	}
	return &Backend{endian: endian, logger: logger}
}

func (b *Backend) Endianness() blackboard.Endianness { return b.endian }

func (b *Backend) MappingKeys() []string { return nil }

func (b *Backend) Instantiate(desc backend.InstanceDescriptor, mapping map[string]string) (backend.SyncObject, error) {
	return &syncObject{subsystem: desc.Name, logger: b.logger.With(desc.Name)}, nil
}

type syncObject struct {
	subsystem string
	logger    logging.Logger
}

func (s *syncObject) Send(ctx context.Context, region blackboard.Region, data []byte) error {
	s.logger.Info("subsystem sync", map[string]any{
		"offset": region.Offset,
		"size":   region.Size,
		"data":   hex.EncodeToString(data),
	})
	return nil
}

func (s *syncObject) Receive(ctx context.Context, region blackboard.Region) ([]byte, error) {
	return nil, backend.ErrUnsupported
}
