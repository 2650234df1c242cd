package relay

// Endpoint descriptors (spec C6 / §3.7) describe where a Stream's media
// should come from or go to beyond the sockets accepted directly by the
// server's listener. A Host endpoint is satisfied passively, by whatever
// connects to the listen address; a Client endpoint is actively dialed by
// this process, either to push a local publish out (Output direction) or to
// pull a remote publish in (Input direction).
//
// The router (Server.GetEndpoints) matches a local listen address / app /
// stream tuple against the configured descriptors and is consulted whenever
// a Stream starts or stops, so unmet push/pull needs can be fulfilled by
// dialing a Client connection on demand (§4.4, §4.5).

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// ConnectionKind distinguishes a passively-accepted Host endpoint from an
// actively-dialed Client endpoint.
type ConnectionKind int

const (
	// KindHost describes connections accepted by this process's listener.
	KindHost ConnectionKind = iota
	// KindClient describes connections this process dials out.
	KindClient
)

func (k ConnectionKind) String() string {
	if k == KindClient {
		return "client"
	}
	return "host"
}

// Direction records whether an endpoint supplies media to a Stream (Input)
// or receives media from one (Output).
type Direction int

const (
	DirectionInput Direction = iota
	DirectionOutput
)

func (d Direction) String() string {
	if d == DirectionOutput {
		return "output"
	}
	return "input"
}

// ResolvedAddress is one (ip, port) pair an endpoint may be reached at,
// alongside the original configured URL used to derive it. A Client
// endpoint may resolve to several addresses (DNS round-robin, explicit
// failover list); Scenario E's reconnect cycling walks this slice in order.
type ResolvedAddress struct {
	IP   string
	Port int
	URL  string
}

func (a ResolvedAddress) String() string {
	if a.URL != "" {
		return a.URL
	}
	return net.JoinHostPort(a.IP, strconv.Itoa(a.Port))
}

// TemplateVars supplies the substitution values for an endpoint's app/stream
// name templates (§4.6): literal "{placeholder}" tokens are replaced with
// the matching field, every occurrence expanding independently.
type TemplateVars struct {
	ID              string
	StreamName      string
	ApplicationName string
	IPAddress       string
	Port            int
}

func (v TemplateVars) expand(tpl string) string {
	if tpl == "" {
		return ""
	}
	r := strings.NewReplacer(
		"{id}", v.ID,
		"{streamName}", v.StreamName,
		"{applicationName}", v.ApplicationName,
		"{ipAddress}", v.IPAddress,
		"{port}", strconv.Itoa(v.Port),
	)
	return r.Replace(tpl)
}

// isWildcard reports whether tpl is empty or exactly one placeholder with no
// literal surrounding text, meaning it matches any incoming value rather than
// generating one of its own.
func isWildcard(tpl, placeholder string) bool {
	return tpl == "" || tpl == placeholder
}

// EndpointDescriptor is the immutable configuration record for one endpoint
// (§3.7). Servers are configured with a slice of these; Stream.start/stop
// consult Server.GetEndpoints to discover which ones apply.
type EndpointDescriptor struct {
	Name string // diagnostic label only, not matched on

	Kind      ConnectionKind
	Direction Direction

	// ListenAddress restricts a Host-kind endpoint to a specific local
	// listener; empty matches any. Ignored for Client-kind endpoints.
	ListenAddress string

	// Addresses is the resolved dial target list for a Client-kind
	// endpoint, walked in order by the reconnect loop.
	Addresses []ResolvedAddress

	ConnectTimeout    time.Duration
	ReconnectInterval time.Duration
	ReconnectCount    int
	PingInterval      time.Duration
	BufferSize        int
	TypedValueVersion int // AMF encoding version advertised to the peer (0 = AMF0)

	PropagateVideo bool
	PropagateAudio bool
	PropagateData  bool

	// AppTemplate / StreamTemplate generate the (application, stream) pair
	// used when this descriptor dials out, or, when left as a bare
	// placeholder, act as a wildcard matching any requested name.
	AppTemplate    string
	StreamTemplate string

	// SuppressMetadataKeys are onMetaData fields stripped before relaying
	// to this endpoint (e.g. hiding an internal "recorder_id" field).
	SuppressMetadataKeys map[string]struct{}
}

// MatchesApp reports whether app satisfies this descriptor's application
// name, treating a bare "{applicationName}" template as a wildcard.
func (e *EndpointDescriptor) MatchesApp(app string) bool {
	if isWildcard(e.AppTemplate, "{applicationName}") {
		return true
	}
	return !strings.Contains(e.AppTemplate, "{") && e.AppTemplate == app
}

// MatchesStream reports whether name satisfies this descriptor's stream
// name, treating a bare "{streamName}" template as a wildcard. This is the
// "unknown name" case from §4.4: a pull endpoint configured this way can
// fulfill a play request for any stream name the server doesn't have yet.
func (e *EndpointDescriptor) MatchesStream(name string) bool {
	if isWildcard(e.StreamTemplate, "{streamName}") {
		return true
	}
	return !strings.Contains(e.StreamTemplate, "{") && e.StreamTemplate == name
}

// ResolveApp expands AppTemplate against vars, for use when this descriptor
// dials out and must name the remote application explicitly.
func (e *EndpointDescriptor) ResolveApp(vars TemplateVars) string {
	if e.AppTemplate == "" {
		return vars.ApplicationName
	}
	return vars.expand(e.AppTemplate)
}

// ResolveStream expands StreamTemplate against vars.
func (e *EndpointDescriptor) ResolveStream(vars TemplateVars) string {
	if e.StreamTemplate == "" {
		return vars.StreamName
	}
	return vars.expand(e.StreamTemplate)
}

// SuppressesKey reports whether key should be dropped from onMetaData
// before it reaches this endpoint.
func (e *EndpointDescriptor) SuppressesKey(key string) bool {
	if e == nil || len(e.SuppressMetadataKeys) == 0 {
		return false
	}
	_, ok := e.SuppressMetadataKeys[key]
	return ok
}

// DialURL returns the resolved address at addrIndex, wrapping around the
// address list, or an error when the endpoint has no addresses. Used by the
// reconnect loop so each attempt budget exhausts against one address before
// advancing.
func (e *EndpointDescriptor) DialURL(addrIndex int) (ResolvedAddress, error) {
	if len(e.Addresses) == 0 {
		return ResolvedAddress{}, fmt.Errorf("endpoint %q has no resolved addresses", e.Name)
	}
	return e.Addresses[addrIndex%len(e.Addresses)], nil
}
