package relay

import (
	"testing"

	"github.com/alxayo/rtmp-relay/internal/rtmp/chunk"
)

func newTestManager(t *testing.T, factory RTMPClientFactory) *DestinationManager {
	t.Helper()
	dm, err := NewDestinationManager(nil, discardLogger(), factory)
	if err != nil {
		t.Fatalf("NewDestinationManager: %v", err)
	}
	t.Cleanup(func() { dm.Close() })
	return dm
}

func TestAddDestinationRejectsDuplicateURL(t *testing.T) {
	dm := newTestManager(t, func(string) (RTMPClient, error) { return &fakeClient{}, nil })

	if err := dm.AddDestination("rtmp://a.example.com/live/one"); err != nil {
		t.Fatalf("AddDestination: %v", err)
	}
	if err := dm.AddDestination("rtmp://a.example.com/live/one"); err == nil {
		t.Fatal("expected error adding a duplicate destination URL")
	}
	if dm.GetDestinationCount() != 1 {
		t.Fatalf("expected 1 destination, got %d", dm.GetDestinationCount())
	}
}

func TestAddDestinationSurvivesInitialConnectFailure(t *testing.T) {
	dm := newTestManager(t, func(string) (RTMPClient, error) { return nil, errUnreachable })

	if err := dm.AddDestination("rtmp://down.example.com/live/one"); err != nil {
		t.Fatalf("AddDestination should not fail even if the initial Connect does: %v", err)
	}
	if dm.GetDestinationCount() != 1 {
		t.Fatalf("expected destination to still be registered, got %d", dm.GetDestinationCount())
	}
	status := dm.GetStatus()
	if status["rtmp://down.example.com/live/one"] != StatusError {
		t.Fatalf("expected StatusError, got %v", status["rtmp://down.example.com/live/one"])
	}
}

func TestRelayMessageFansOutToAllDestinations(t *testing.T) {
	fc1 := &fakeClient{}
	fc2 := &fakeClient{}
	clients := map[string]*fakeClient{
		"rtmp://one.example.com/live/a": fc1,
		"rtmp://two.example.com/live/b": fc2,
	}
	dm := newTestManager(t, func(u string) (RTMPClient, error) { return clients[u], nil })

	for u := range clients {
		if err := dm.AddDestination(u); err != nil {
			t.Fatalf("AddDestination(%s): %v", u, err)
		}
	}

	dm.RelayMessage(&chunk.Message{TypeID: 9, Payload: []byte{1, 2, 3}})

	if fc1.sent != 1 || fc2.sent != 1 {
		t.Fatalf("expected both destinations to receive the message, got fc1=%d fc2=%d", fc1.sent, fc2.sent)
	}
}

func TestRelayMessageIgnoresNonMediaTypes(t *testing.T) {
	fc := &fakeClient{}
	dm := newTestManager(t, func(string) (RTMPClient, error) { return fc, nil })
	if err := dm.AddDestination("rtmp://one.example.com/live/a"); err != nil {
		t.Fatalf("AddDestination: %v", err)
	}

	dm.RelayMessage(&chunk.Message{TypeID: 20})
	if fc.sent != 0 {
		t.Fatalf("expected non-media message to not be relayed")
	}
}

func TestCloseClearsAllDestinations(t *testing.T) {
	dm := newTestManager(t, func(string) (RTMPClient, error) { return &fakeClient{}, nil })
	if err := dm.AddDestination("rtmp://one.example.com/live/a"); err != nil {
		t.Fatalf("AddDestination: %v", err)
	}

	if err := dm.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if dm.GetDestinationCount() != 0 {
		t.Fatalf("expected 0 destinations after Close, got %d", dm.GetDestinationCount())
	}
}

var errUnreachable = &dialError{"connection refused"}

type dialError struct{ msg string }

func (e *dialError) Error() string { return e.msg }
