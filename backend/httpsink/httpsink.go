// Package httpsink implements an HTTP PUT-based Backend, giving the
// repo a runnable, testable sync target outside the engine core.
package httpsink

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"paramforge/backend"
	"paramforge/blackboard"
	"paramforge/paramerrors"
)

// Backend PUTs each dirty region's bytes to "<BaseURL>/<offset>:<size>".
type Backend struct {
	endian blackboard.Endianness
	client *http.Client
}

// New returns a Backend that pushes regions over HTTP with the given
// endianness and request timeout.
func New(endian blackboard.Endianness, timeout time.Duration) *Backend {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Backend{endian: endian, client: &http.Client{Timeout: timeout}}
}

func (b *Backend) Endianness() blackboard.Endianness { return b.endian }

func (b *Backend) MappingKeys() []string { return []string{"url"} }

func (b *Backend) Instantiate(desc backend.InstanceDescriptor, mapping map[string]string) (backend.SyncObject, error) {
	baseURL, ok := mapping["url"]
	if !ok || baseURL == "" {
		return nil, paramerrors.New(paramerrors.BackendError, "httpsink.Instantiate").WithPath(desc.Name).WithDetail("missing url mapping key")
	}
	return &syncObject{client: b.client, baseURL: baseURL}, nil
}

type syncObject struct {
	client  *http.Client
	baseURL string
}

func (s *syncObject) Send(ctx context.Context, region blackboard.Region, data []byte) error {
	url := fmt.Sprintf("%s/%d:%d", s.baseURL, region.Offset, region.Size)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(data))
	if err != nil {
		return paramerrors.Wrap(paramerrors.BackendError, "httpsink.Send", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return paramerrors.Wrap(paramerrors.BackendError, "httpsink.Send", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return paramerrors.New(paramerrors.BackendError, "httpsink.Send").WithDetail(fmt.Sprintf("unexpected status %d", resp.StatusCode))
	}
	return nil
}

func (s *syncObject) Receive(ctx context.Context, region blackboard.Region) ([]byte, error) {
	url := fmt.Sprintf("%s/%d:%d", s.baseURL, region.Offset, region.Size)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, paramerrors.Wrap(paramerrors.BackendError, "httpsink.Receive", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, paramerrors.Wrap(paramerrors.BackendError, "httpsink.Receive", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, paramerrors.New(paramerrors.BackendError, "httpsink.Receive").WithDetail(fmt.Sprintf("unexpected status %d", resp.StatusCode))
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, paramerrors.Wrap(paramerrors.BackendError, "httpsink.Receive", err)
	}
	return data, nil
}
