// Package socketserver hands newly accepted TCP connections from a
// dedicated accept loop to a consumer execution context that never calls
// accept itself. One acceptor goroutine runs per registered port and
// passes each connection's descriptor over a socketpair; the consumer
// side drains the pair on readiness and invokes the registered callback.
package socketserver

import (
	"sync"

	"github.com/flightaware/socketserver/acceptor"
	"github.com/flightaware/socketserver/bridge"
	E "github.com/flightaware/socketserver/common/exceptions"
	"github.com/flightaware/socketserver/common/log"
	"github.com/flightaware/socketserver/fdpass"

	"github.com/sirupsen/logrus"
)

// ErrPortNotFound reports a client registration for a port no server was
// ever started on.
var ErrPortNotFound = E.New("no server registered for port")

// Port is one registry entry. The channel and acceptor are set together,
// once, on the first server registration for the port; the bridge is set
// on the first client registration.
type Port struct {
	number   uint16
	acceptor *acceptor.Acceptor
	channel  *fdpass.Channel
	bridge   *bridge.Bridge
}

func (p *Port) Number() uint16 {
	return p.number
}

type Service struct {
	access       sync.Mutex
	ports        []*Port
	dispatcher   bridge.Dispatcher
	newNotifier  func() bridge.Notifier
	errorHandler E.Handler
	logger       *logrus.Entry
}

func New(options ...Option) *Service {
	service := &Service{
		logger: log.NewLogger("socketserver"),
	}
	for _, option := range options {
		option(service)
	}
	if service.dispatcher == nil {
		service.dispatcher = bridge.NewLoop()
	}
	if service.newNotifier == nil {
		service.newNotifier = bridge.NewPollWatcher
	}
	return service
}

// Server starts the acceptor for the port if one is not already running.
// Registering the same port again is a no-op. Port 0 resolves to the
// first registered port when one exists, else binds an ephemeral port.
func (s *Service) Server(port uint16) error {
	s.access.Lock()
	defer s.access.Unlock()
	entry := s.getOrCreate(port)
	if entry.channel != nil {
		s.logger.Debug("server already running on port ", entry.number)
		return nil
	}
	channel, err := fdpass.Pair()
	if err != nil {
		return E.Cause(err, "create handoff channel")
	}
	accept := acceptor.New(entry.number, channel)
	err = accept.Start()
	if err != nil {
		channel.Close()
		return err
	}
	entry.channel = channel
	entry.acceptor = accept
	// A literal-zero registration bound an ephemeral port; record the
	// resolved one so lookups and callback metadata carry the real port.
	entry.number = accept.Port()
	s.logger.Debug("server started on port ", entry.number)
	return nil
}

// Ports returns a snapshot of the registered port entries, in
// registration order.
func (s *Service) Ports() []*Port {
	s.access.Lock()
	defer s.access.Unlock()
	return append([]*Port(nil), s.ports...)
}

// Client registers (or re-registers) the connection callback for the
// port. It fails with ErrPortNotFound unless a server was started first.
// Registration immediately attempts one drain, so a connection accepted
// before the client existed is still delivered. After each delivery the
// consumer is disarmed until the callback (or other consumer code) calls
// Rearm or registers again.
func (s *Service) Client(port uint16, handler bridge.Handler) error {
	s.access.Lock()
	entry := s.find(port)
	if entry == nil || entry.channel == nil {
		s.access.Unlock()
		return ErrPortNotFound
	}
	if entry.bridge == nil {
		entry.bridge = bridge.New(entry.number, entry.channel, s.dispatcher, s.newNotifier(), s.errorHandler)
	}
	consumer := entry.bridge
	s.access.Unlock()
	return consumer.Register(handler)
}

// Rearm re-enables delivery for the port after a successful one.
func (s *Service) Rearm(port uint16) error {
	s.access.Lock()
	entry := s.find(port)
	if entry == nil || entry.bridge == nil {
		s.access.Unlock()
		return ErrPortNotFound
	}
	consumer := entry.bridge
	s.access.Unlock()
	consumer.Rearm()
	return nil
}

// getOrCreate and find run under the service lock. Lookup and creation
// form one critical section so concurrent registrations cannot start two
// acceptors for the same port.

func (s *Service) getOrCreate(port uint16) *Port {
	if entry := s.find(port); entry != nil {
		return entry
	}
	entry := &Port{number: port}
	s.ports = append(s.ports, entry)
	return entry
}

func (s *Service) find(port uint16) *Port {
	// The default port is the first registered one.
	if port == 0 && len(s.ports) > 0 {
		port = s.ports[0].number
	}
	for _, entry := range s.ports {
		if entry.number == port {
			return entry
		}
	}
	return nil
}
