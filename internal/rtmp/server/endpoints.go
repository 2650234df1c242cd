package server

// C6 endpoint router (§4.6) and the C5 create_connection-on-demand glue
// that keeps Stream.start (§4.4) honest: when a local connection attaches
// to a Stream, any endpoint descriptor configured to fill the other side is
// dialed here rather than left for an operator to wire up externally.

import (
	"net"
	"strconv"

	"github.com/alxayo/rtmp-relay/internal/rtmp/chunk"
	"github.com/alxayo/rtmp-relay/internal/rtmp/media"
	"github.com/alxayo/rtmp-relay/internal/rtmp/relay"
)

// GetEndpoints returns every configured Client-kind descriptor matching
// localAddr, direction, app and stream name (§4.5 get_endpoints). Host-kind
// descriptors are fulfilled passively by the listener and are never
// returned here.
func (s *Server) GetEndpoints(localAddr string, dir relay.Direction, app, name string) []relay.EndpointDescriptor {
	var out []relay.EndpointDescriptor
	for _, ep := range s.cfg.Endpoints {
		if ep.Kind != relay.KindClient || ep.Direction != dir {
			continue
		}
		if ep.ListenAddress != "" && ep.ListenAddress != localAddr {
			continue
		}
		if !ep.MatchesApp(app) || !ep.MatchesStream(name) {
			continue
		}
		out = append(out, ep)
	}
	return out
}

// endpointKey identifies a descriptor by its primary dial address, used to
// dedupe repeated fulfillment attempts (e.g. a reconnecting encoder
// re-publishing the same stream key).
func endpointKey(ep relay.EndpointDescriptor) string {
	if len(ep.Addresses) == 0 {
		return ""
	}
	return ep.Addresses[0].String()
}

// fulfillPushEndpoints implements the Output half of Stream.start: once an
// Input connection (a real publisher, or a pull source) attaches to stream,
// dial every matching Output-direction Client endpoint that this stream
// hasn't already created a connection for.
func (s *Server) fulfillPushEndpoints(stream *Stream, app, name string) {
	if s.destinationManager == nil {
		return
	}
	for _, ep := range s.GetEndpoints(s.cfg.ListenAddr, relay.DirectionOutput, app, name) {
		key := endpointKey(ep)
		if key == "" || !stream.TryFulfillEndpoint(key) {
			continue
		}
		resolved := resolveTemplatedEndpoint(ep, app, name)
		dest, err := s.destinationManager.AddEndpoint(&resolved)
		if err != nil {
			s.log.Error("create_connection (push) failed", "endpoint", key, "error", err)
			continue
		}
		stream.AddClientDestination(key, dest)
		s.log.Info("push endpoint connection created", "endpoint", key, "app", app, "stream", name)
	}
}

// fulfillPullEndpoint implements the Input half of Stream.start: when an
// Output connection (a subscriber) attaches to a stream with no publisher
// yet, dial the first matching Input-direction Client endpoint to supply
// media. A bare "{streamName}" StreamTemplate lets one descriptor fulfill
// any requested, not-yet-known stream name.
func (s *Server) fulfillPullEndpoint(stream *Stream, app, name string) {
	if stream.HasPublisher() {
		return
	}
	for _, ep := range s.GetEndpoints(s.cfg.ListenAddr, relay.DirectionInput, app, name) {
		key := endpointKey(ep)
		if key == "" || !stream.TryFulfillEndpoint(key) {
			continue
		}
		resolved := resolveTemplatedEndpoint(ep, app, name)
		codecDetector := &media.CodecDetector{}
		sink := func(m *chunk.Message) {
			processIncomingMessage(stream, m, codecDetector, s.destinationManager, s.log)
		}
		pull, err := relay.NewPullSource(&resolved, s.log, s.pullClientFactory, sink)
		if err != nil {
			s.log.Error("create_connection (pull) failed", "endpoint", key, "error", err)
			continue
		}
		stream.SetPullSource(pull)
		s.log.Info("pull endpoint connection created", "endpoint", key, "app", app, "stream", name)
		return // one source is enough to fulfill the stream
	}
}

// resolveTemplatedEndpoint expands ep's app/stream templates against the
// concrete (app, name) a connection just requested, so a dialed Client
// connection names the right remote application/stream (§4.6).
func resolveTemplatedEndpoint(ep relay.EndpointDescriptor, app, name string) relay.EndpointDescriptor {
	vars := relay.TemplateVars{ApplicationName: app, StreamName: name}
	resolved := ep
	resolvedApp := ep.ResolveApp(vars)
	resolvedStream := ep.ResolveStream(vars)
	addrs := make([]relay.ResolvedAddress, len(ep.Addresses))
	for i, a := range ep.Addresses {
		addrs[i] = a
		if a.URL == "" {
			host := a.IP
			if a.Port != 0 {
				host = net.JoinHostPort(a.IP, strconv.Itoa(a.Port))
			}
			addrs[i].URL = "rtmp://" + host + "/" + resolvedApp + "/" + resolvedStream
		}
	}
	resolved.Addresses = addrs
	return resolved
}
