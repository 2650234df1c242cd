package relay

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	rtmperrors "github.com/alxayo/rtmp-relay/internal/errors"
	"github.com/alxayo/rtmp-relay/internal/rtmp/chunk"
)

// defaultReconnectInterval/defaultReconnectCount back a plain URL-only
// destination (no EndpointDescriptor supplied) with the same cadence the
// teacher's single-target relay used, so existing RelayDestinations config
// keeps working unchanged.
const (
	defaultReconnectInterval = 5 * time.Second
	defaultReconnectCount    = 1
)

// RTMPClient interface defines the methods we need from an RTMP client
// to avoid circular dependencies with the client package
type RTMPClient interface {
	Connect() error
	Publish() error
	SendAudio(timestamp uint32, payload []byte) error
	SendVideo(timestamp uint32, payload []byte) error
	Close() error
}

// RTMPClientFactory creates new RTMP clients
type RTMPClientFactory func(url string) (RTMPClient, error)

// DestinationStatus represents the connection state of a destination
type DestinationStatus int

const (
	StatusDisconnected DestinationStatus = iota
	StatusConnecting
	StatusConnected
	StatusError
)

// String returns a string representation of the destination status
func (s DestinationStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// DestinationMetrics tracks performance for each destination
type DestinationMetrics struct {
	MessagesSent    uint64    // Total messages sent successfully
	MessagesDropped uint64    // Messages dropped due to errors
	BytesSent       uint64    // Total bytes transmitted
	LastSentTime    time.Time // Timestamp of last successful send
	ConnectTime     time.Time // When connection was established
	ReconnectCount  uint32    // Number of reconnection attempts, across all addresses
}

// cycleState tracks where the reconnect loop is in an endpoint's resolved
// address list: attempt counts against addresses[index] until it has been
// tried reconnectCount times, then advances to the next address (§4.3,
// Scenario E).
type cycleState struct {
	index      int
	attemptsAt int
}

func (c *cycleState) next(addrCount, reconnectCount int) int {
	if addrCount == 0 {
		return 0
	}
	attempt := c.index
	c.attemptsAt++
	if c.attemptsAt >= reconnectCount {
		c.attemptsAt = 0
		c.index = (c.index + 1) % addrCount
	}
	return attempt % addrCount
}

// Destination represents a single outbound RTMP push target: either a plain
// configured relay URL or a Client-kind, Output-direction EndpointDescriptor
// resolved to one or more addresses.
type Destination struct {
	URL           string              // current/primary address, for logging and map keys
	Client        RTMPClient          // Persistent RTMP client connection
	Status        DestinationStatus   // Current connection status
	LastError     error               // Last error encountered
	Metrics       *DestinationMetrics // Performance metrics
	clientFactory RTMPClientFactory   // Factory to create new clients

	endpoint *EndpointDescriptor
	cycle    cycleState

	mu              sync.RWMutex
	reconnectCtx    context.Context
	reconnectCancel context.CancelFunc
	logger          *slog.Logger
}

// NewDestination creates a Destination for a single relay URL, matching the
// push-only behavior plain RelayDestinations config has always had: one
// address, retried indefinitely at a fixed interval.
func NewDestination(rawURL string, logger *slog.Logger, clientFactory RTMPClientFactory) (*Destination, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid destination URL: %w", err)
	}
	if parsed.Scheme != "rtmp" {
		return nil, fmt.Errorf("destination URL must use rtmp:// scheme, got %s", parsed.Scheme)
	}
	ep := &EndpointDescriptor{
		Name:              rawURL,
		Kind:              KindClient,
		Direction:         DirectionOutput,
		Addresses:         []ResolvedAddress{{URL: rawURL}},
		ReconnectInterval: defaultReconnectInterval,
		ReconnectCount:    defaultReconnectCount,
		PropagateVideo:    true,
		PropagateAudio:    true,
		PropagateData:     true,
	}
	return NewDestinationFromEndpoint(ep, logger, clientFactory)
}

// NewDestinationFromEndpoint creates a Destination driven by a fully
// resolved EndpointDescriptor, cycling through its Addresses on reconnect
// per Scenario E (reconnectCount attempts against one address before
// advancing to the next).
func NewDestinationFromEndpoint(ep *EndpointDescriptor, logger *slog.Logger, clientFactory RTMPClientFactory) (*Destination, error) {
	if ep == nil || len(ep.Addresses) == 0 {
		return nil, fmt.Errorf("endpoint descriptor has no resolved addresses")
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Destination{
		URL:             ep.Addresses[0].String(),
		Status:          StatusDisconnected,
		Metrics:         &DestinationMetrics{},
		clientFactory:   clientFactory,
		endpoint:        ep,
		reconnectCtx:    ctx,
		reconnectCancel: cancel,
		logger:          logger.With("destination", ep.Addresses[0].String()),
	}
	go d.reconnectLoop()
	return d, nil
}

// reconnectInterval and reconnectCount read from the endpoint, falling back
// to the teacher's original single-URL cadence if unset.
func (d *Destination) reconnectInterval() time.Duration {
	if d.endpoint.ReconnectInterval > 0 {
		return d.endpoint.ReconnectInterval
	}
	return defaultReconnectInterval
}

func (d *Destination) reconnectCount() int {
	if d.endpoint.ReconnectCount > 0 {
		return d.endpoint.ReconnectCount
	}
	return defaultReconnectCount
}

// reconnectLoop runs for the lifetime of the destination, re-dialing
// whenever the connection is down. Each tick advances the address cycle
// (Scenario E): the same address is retried reconnectCount times before the
// loop moves on to the next entry in endpoint.Addresses.
func (d *Destination) reconnectLoop() {
	ticker := time.NewTicker(d.reconnectInterval())
	defer ticker.Stop()
	for {
		select {
		case <-d.reconnectCtx.Done():
			return
		case <-ticker.C:
		}

		if d.GetStatus() == StatusConnected {
			continue
		}

		d.mu.Lock()
		addrIdx := d.cycle.next(len(d.endpoint.Addresses), d.reconnectCount())
		addr := d.endpoint.Addresses[addrIdx]
		d.URL = addr.String()
		d.Metrics.ReconnectCount++
		d.mu.Unlock()

		if err := d.connectTo(addr); err != nil {
			d.logger.Warn("reconnect attempt failed, will retry", "url", addr.String(), "error", err)
		}
	}
}

// Connect dials the address currently selected by the reconnect cycle (the
// first configured address on first attempt).
func (d *Destination) Connect() error {
	d.mu.RLock()
	addr := d.endpoint.Addresses[d.cycle.index%len(d.endpoint.Addresses)]
	d.mu.RUnlock()
	return d.connectTo(addr)
}

// connectTo establishes the connection to a specific resolved address.
func (d *Destination) connectTo(addr ResolvedAddress) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.Status == StatusConnected {
		d.logger.Debug("already connected to destination")
		return nil
	}

	d.Status = StatusConnecting
	d.URL = addr.String()
	d.logger.Info("connecting to destination", "url", addr.String())

	client, err := d.clientFactory(addr.String())
	if err != nil {
		txErr := rtmperrors.NewTransportError("create client", addr.String(), err)
		d.Status = StatusError
		d.LastError = txErr
		return txErr
	}

	if err := client.Connect(); err != nil {
		txErr := rtmperrors.NewTransportError("client connect", addr.String(), err)
		d.Status = StatusError
		d.LastError = txErr
		return txErr
	}

	if err := client.Publish(); err != nil {
		txErr := rtmperrors.NewTransportError("client publish", addr.String(), err)
		d.Status = StatusError
		d.LastError = txErr
		return txErr
	}

	d.Client = client
	d.Status = StatusConnected
	d.Metrics.ConnectTime = time.Now()
	d.LastError = nil
	d.logger.Info("connected to destination")
	return nil
}

// SendMessage sends a media message to this destination, honoring the
// endpoint's propagation flags when one is configured.
func (d *Destination) SendMessage(msg *chunk.Message) error {
	d.mu.RLock()
	client := d.Client
	status := d.Status
	ep := d.endpoint
	d.mu.RUnlock()

	if ep != nil {
		if msg.TypeID == 9 && !ep.PropagateVideo {
			return nil
		}
		if msg.TypeID == 8 && !ep.PropagateAudio {
			return nil
		}
	}

	if status != StatusConnected || client == nil {
		d.mu.Lock()
		d.Metrics.MessagesDropped++
		d.mu.Unlock()
		return fmt.Errorf("destination not connected (status: %v)", status)
	}

	var err error
	switch msg.TypeID {
	case 8:
		err = client.SendAudio(msg.Timestamp, msg.Payload)
	case 9:
		err = client.SendVideo(msg.Timestamp, msg.Payload)
	default:
		return nil
	}

	if err != nil {
		d.mu.Lock()
		d.Status = StatusError
		d.LastError = err
		d.Metrics.MessagesDropped++
		d.mu.Unlock()
		return fmt.Errorf("send message: %w", err)
	}

	d.mu.Lock()
	d.Metrics.MessagesSent++
	d.Metrics.BytesSent += uint64(len(msg.Payload))
	d.Metrics.LastSentTime = time.Now()
	d.mu.Unlock()
	return nil
}

// Close disconnects from the destination and stops its reconnect loop.
func (d *Destination) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.reconnectCancel()

	if d.Client != nil {
		err := d.Client.Close()
		d.Client = nil
		d.Status = StatusDisconnected
		return err
	}
	return nil
}

// GetMetrics returns a copy of current metrics
func (d *Destination) GetMetrics() DestinationMetrics {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return *d.Metrics
}

// GetStatus returns the current connection status
func (d *Destination) GetStatus() DestinationStatus {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.Status
}

// GetLastError returns the last error encountered
func (d *Destination) GetLastError() error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.LastError
}
