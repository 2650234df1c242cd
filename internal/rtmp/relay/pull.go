package relay

// Pull-direction connections (C6 / §4.4): dial a remote RTMP source and play
// it into a local Stream, fulfilling an Input-direction Client endpoint that
// the server itself cannot satisfy by waiting for an inbound publish. This
// mirrors Destination's push side but reads instead of writes, and its
// reconnect cycling follows the same per-address attempt budget.

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	rtmperrors "github.com/alxayo/rtmp-relay/internal/errors"
	"github.com/alxayo/rtmp-relay/internal/rtmp/chunk"
)

// RTMPPullClient is the subset of client.Client needed to play a remote
// stream in. Kept as an interface (mirroring RTMPClient) to avoid an import
// cycle with the client package and to let tests inject a fake.
type RTMPPullClient interface {
	Connect() error
	Play() error
	ReadMessage() (*chunk.Message, error)
	Close() error
}

// RTMPPullClientFactory creates a pull client for a resolved URL.
type RTMPPullClientFactory func(url string) (RTMPPullClient, error)

// PullSource dials an Input-direction Client endpoint and forwards every
// message it reads to Sink, until Close is called or the Stream it feeds no
// longer needs it.
type PullSource struct {
	endpoint *EndpointDescriptor
	factory  RTMPPullClientFactory
	sink     func(*chunk.Message)
	logger   *slog.Logger

	mu     sync.RWMutex
	client RTMPPullClient
	status DestinationStatus
	cycle  cycleState

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPullSource creates and starts a pull source for ep, which must be a
// Client-kind, Input-direction descriptor with at least one resolved
// address. sink receives every message read from the remote source,
// including sequence headers and metadata, in arrival order.
func NewPullSource(ep *EndpointDescriptor, logger *slog.Logger, factory RTMPPullClientFactory, sink func(*chunk.Message)) (*PullSource, error) {
	if ep == nil || len(ep.Addresses) == 0 {
		return nil, fmt.Errorf("endpoint has no resolved addresses")
	}
	if ep.Direction != DirectionInput || ep.Kind != KindClient {
		return nil, fmt.Errorf("pull source requires a Client-kind, Input-direction endpoint")
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &PullSource{
		endpoint: ep,
		factory:  factory,
		sink:     sink,
		logger:   logger.With("pull_source", ep.Addresses[0].String()),
		status:   StatusDisconnected,
		ctx:      ctx,
		cancel:   cancel,
	}
	p.wg.Add(1)
	go p.run()
	return p, nil
}

func (p *PullSource) reconnectInterval() time.Duration {
	if p.endpoint.ReconnectInterval > 0 {
		return p.endpoint.ReconnectInterval
	}
	return defaultReconnectInterval
}

func (p *PullSource) reconnectCount() int {
	if p.endpoint.ReconnectCount > 0 {
		return p.endpoint.ReconnectCount
	}
	return defaultReconnectCount
}

// run owns the connect → play → read loop and the Scenario E reconnect
// cycle across p.endpoint.Addresses on failure.
func (p *PullSource) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.reconnectInterval())
	defer ticker.Stop()

	// Dial immediately on start, then fall back to the ticker cadence.
	addr, _ := p.endpoint.DialURL(0)
	for {
		if err := p.connectAndPlay(addr); err != nil {
			p.logger.Warn("pull connect failed, will retry", "url", addr.String(), "error", err)
		} else {
			p.readLoop()
			if p.ctx.Err() != nil {
				return
			}
		}

		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
		}

		p.mu.Lock()
		idx := p.cycle.next(len(p.endpoint.Addresses), p.reconnectCount())
		p.mu.Unlock()
		addr, _ = p.endpoint.DialURL(idx)
	}
}

func (p *PullSource) connectAndPlay(addr ResolvedAddress) error {
	client, err := p.factory(addr.String())
	if err != nil {
		return rtmperrors.NewTransportError("create pull client", addr.String(), err)
	}
	if err := client.Connect(); err != nil {
		return rtmperrors.NewTransportError("pull client connect", addr.String(), err)
	}
	if err := client.Play(); err != nil {
		_ = client.Close()
		return rtmperrors.NewTransportError("pull client play", addr.String(), err)
	}

	p.mu.Lock()
	p.client = client
	p.status = StatusConnected
	p.mu.Unlock()
	return nil
}

// readLoop consumes messages until the connection drops or Close is called.
func (p *PullSource) readLoop() {
	p.mu.RLock()
	client := p.client
	p.mu.RUnlock()

	for {
		if p.ctx.Err() != nil {
			return
		}
		msg, err := client.ReadMessage()
		if err != nil {
			p.mu.Lock()
			p.status = StatusError
			p.client = nil
			p.mu.Unlock()
			_ = client.Close()
			return
		}
		if p.sink != nil {
			p.sink(msg)
		}
	}
}

// GetStatus returns the current connection status.
func (p *PullSource) GetStatus() DestinationStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

// Close stops the pull loop and disconnects the underlying client.
func (p *PullSource) Close() error {
	p.cancel()
	p.mu.Lock()
	client := p.client
	p.client = nil
	p.status = StatusDisconnected
	p.mu.Unlock()
	if client != nil {
		_ = client.Close()
	}
	p.wg.Wait()
	return nil
}
