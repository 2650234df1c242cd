package relay

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/alxayo/rtmp-relay/internal/rtmp/chunk"
)

// DestinationManager fans a Stream's media out to every configured push
// target: plain RelayDestinations URLs and Output-direction Client
// endpoints created on demand by the C6 router (§4.5 create_connection).
type DestinationManager struct {
	destinations  map[string]*Destination
	mu            sync.RWMutex
	logger        *slog.Logger
	clientFactory RTMPClientFactory
}

// NewDestinationManager creates a new destination manager
func NewDestinationManager(destinationURLs []string, logger *slog.Logger, clientFactory RTMPClientFactory) (*DestinationManager, error) {
	dm := &DestinationManager{
		destinations:  make(map[string]*Destination),
		logger:        logger.With("component", "destination_manager"),
		clientFactory: clientFactory,
	}

	for _, u := range destinationURLs {
		if err := dm.AddDestination(u); err != nil {
			dm.logger.Warn("failed to add destination", "url", u, "error", err)
		}
	}

	return dm, nil
}

// AddDestination adds a plain push target keyed by its URL.
func (dm *DestinationManager) AddDestination(rawURL string) error {
	dest, err := NewDestination(rawURL, dm.logger, dm.clientFactory)
	if err != nil {
		return fmt.Errorf("create destination: %w", err)
	}
	return dm.register(rawURL, dest)
}

// AddEndpoint adds a push target driven by a Client-kind, Output-direction
// EndpointDescriptor, keyed by its first resolved address. This is how
// Stream.start fulfills an unmet Output endpoint need (§4.4/§4.5).
func (dm *DestinationManager) AddEndpoint(ep *EndpointDescriptor) (*Destination, error) {
	if ep == nil || len(ep.Addresses) == 0 {
		return nil, fmt.Errorf("endpoint has no resolved addresses")
	}
	key := ep.Addresses[0].String()
	dm.mu.RLock()
	if existing, ok := dm.destinations[key]; ok {
		dm.mu.RUnlock()
		return existing, nil
	}
	dm.mu.RUnlock()

	dest, err := NewDestinationFromEndpoint(ep, dm.logger, dm.clientFactory)
	if err != nil {
		return nil, fmt.Errorf("create destination: %w", err)
	}
	if err := dm.register(key, dest); err != nil {
		dest.Close()
		return nil, err
	}
	return dest, nil
}

func (dm *DestinationManager) register(key string, dest *Destination) error {
	dm.mu.Lock()
	if _, exists := dm.destinations[key]; exists {
		dm.mu.Unlock()
		dest.Close()
		return fmt.Errorf("destination already exists: %s", key)
	}
	dm.destinations[key] = dest
	total := len(dm.destinations)
	dm.mu.Unlock()

	// Connect is attempted eagerly; failure is not fatal since dest's own
	// reconnect loop (started by its constructor) keeps retrying.
	if err := dest.Connect(); err != nil {
		dm.logger.Warn("failed to connect to destination", "url", key, "error", err)
	}
	dm.logger.Info("added destination", "url", key, "total_destinations", total)
	return nil
}

// RemoveDestination closes and forgets the destination keyed by key, used
// when a Stream stops and its push endpoints are no longer needed.
func (dm *DestinationManager) RemoveDestination(key string) {
	dm.mu.Lock()
	dest, ok := dm.destinations[key]
	if ok {
		delete(dm.destinations, key)
	}
	dm.mu.Unlock()
	if ok {
		_ = dest.Close()
	}
}

// RelayMessage sends a media message to all connected destinations, in
// parallel but awaited, so fan-out never reorders a single source's frames
// relative to each other.
func (dm *DestinationManager) RelayMessage(msg *chunk.Message) {
	if msg == nil || (msg.TypeID != 8 && msg.TypeID != 9) {
		return
	}

	dm.mu.RLock()
	destinations := make([]*Destination, 0, len(dm.destinations))
	for _, dest := range dm.destinations {
		destinations = append(destinations, dest)
	}
	dm.mu.RUnlock()

	var wg sync.WaitGroup
	for _, dest := range destinations {
		wg.Add(1)
		go func(d *Destination) {
			defer wg.Done()
			if err := d.SendMessage(msg); err != nil {
				dm.logger.Debug("relay send failed", "url", d.URL, "type_id", msg.TypeID, "error", err)
			}
		}(dest)
	}
	wg.Wait()
}

// GetStatus returns status of all destinations
func (dm *DestinationManager) GetStatus() map[string]DestinationStatus {
	dm.mu.RLock()
	defer dm.mu.RUnlock()

	status := make(map[string]DestinationStatus)
	for url, dest := range dm.destinations {
		status[url] = dest.GetStatus()
	}
	return status
}

// GetMetrics returns metrics for all destinations
func (dm *DestinationManager) GetMetrics() map[string]DestinationMetrics {
	dm.mu.RLock()
	defer dm.mu.RUnlock()

	metrics := make(map[string]DestinationMetrics)
	for url, dest := range dm.destinations {
		metrics[url] = dest.GetMetrics()
	}
	return metrics
}

// Close disconnects from all destinations
func (dm *DestinationManager) Close() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	var lastErr error
	for url, dest := range dm.destinations {
		if err := dest.Close(); err != nil {
			dm.logger.Error("error closing destination", "url", url, "error", err)
			lastErr = err
		}
	}

	dm.destinations = make(map[string]*Destination)
	return lastErr
}

// GetDestinationCount returns the number of registered destinations
func (dm *DestinationManager) GetDestinationCount() int {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	return len(dm.destinations)
}
