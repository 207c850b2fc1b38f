// Package bridge drains accepted-connection descriptors from a handoff
// channel on readiness signals and schedules the registered callback for
// each one, without ever blocking the consumer context.
package bridge

import (
	"errors"
	"net"
	"os"
	"sync"

	"github.com/flightaware/socketserver/common"
	E "github.com/flightaware/socketserver/common/exceptions"
	"github.com/flightaware/socketserver/common/log"
	"github.com/flightaware/socketserver/fdpass"

	"github.com/sirupsen/logrus"
)

// Handler receives one accepted connection. It runs on the dispatcher's
// execution context and owns the connection.
type Handler func(conn net.Conn, port uint16)

// Dispatcher schedules a callback invocation on the consumer's own
// execution context. A scheduling failure is reported back to the bridge,
// never retried.
type Dispatcher interface {
	ScheduleCallback(handler Handler, conn net.Conn, port uint16) error
}

// Notifier watches the channel read end and invokes the installed
// callback at least once per transition to readable. Over-delivery is
// tolerated; the bridge deduplicates. Arm tells the notifier the bridge
// is interested in the next such transition.
type Notifier interface {
	Install(readFd int, onReadable func()) error
	Arm()
}

// Bridge is the single reader of one handoff channel. At most one drain
// attempt is in flight per arming: a successful delivery leaves the
// bridge disarmed until Register or Rearm, matching the one-shot
// notification contract of the channel protocol.
type Bridge struct {
	access       sync.Mutex
	armed        bool
	installed    bool
	channel      *fdpass.Channel
	port         uint16
	handler      Handler
	dispatcher   Dispatcher
	notifier     Notifier
	errorHandler E.Handler
	logger       *logrus.Entry
}

func New(port uint16, channel *fdpass.Channel, dispatcher Dispatcher, notifier Notifier, errorHandler E.Handler) *Bridge {
	return &Bridge{
		channel:      channel,
		port:         port,
		dispatcher:   dispatcher,
		notifier:     notifier,
		errorHandler: errorHandler,
		logger:       log.NewLogger("bridge").WithField("port", port),
	}
}

// Register installs or replaces the callback, arms the bridge and
// immediately attempts one drain: a connection accepted before
// registration is already waiting in the channel and must not be missed.
func (b *Bridge) Register(handler Handler) error {
	b.access.Lock()
	b.handler = handler
	if !b.installed {
		err := b.channel.SetReadNonblock()
		if err != nil {
			b.access.Unlock()
			return E.Cause(err, "configure channel read end")
		}
		err = b.notifier.Install(b.channel.ReadFd(), b.OnReadable)
		if err != nil {
			b.access.Unlock()
			return E.Cause(err, "install readiness watch")
		}
		b.installed = true
	}
	b.armed = true
	b.access.Unlock()
	b.notifier.Arm()
	b.OnReadable()
	return nil
}

// Rearm re-enables delivery after a successful drain consumed the
// previous arming, then re-polls in case the next descriptor is already
// pending. Callbacks that want a stream of connections call this.
func (b *Bridge) Rearm() {
	b.access.Lock()
	if b.handler == nil {
		b.access.Unlock()
		return
	}
	b.armed = true
	b.access.Unlock()
	b.notifier.Arm()
	b.OnReadable()
}

// OnReadable claims one readiness notification. A stale or duplicate
// notification finds the bridge disarmed and is ignored, so a double-fired
// readiness signal can never cause two overlapping drains.
func (b *Bridge) OnReadable() {
	b.access.Lock()
	if !b.armed {
		b.access.Unlock()
		return
	}
	b.armed = false
	fd, err := b.channel.Receive()
	if err != nil {
		if errors.Is(err, fdpass.ErrNoData) {
			// Benign race with the triggering mode, not an error.
			b.armed = true
			b.access.Unlock()
			b.notifier.Arm()
			return
		}
		b.access.Unlock()
		b.surface(E.Cause(err, "handoff receive"))
		return
	}
	handler := b.handler
	b.access.Unlock()

	// The guard is released before dispatch so a slow callback cannot
	// stall the next notification once the bridge re-arms.
	conn, err := wrapDescriptor(fd)
	if err != nil {
		b.surface(E.Cause(err, "wrap descriptor ", fd))
		return
	}
	err = b.dispatcher.ScheduleCallback(handler, conn, b.port)
	if err != nil {
		common.Close(conn)
		b.surface(E.Cause(err, "schedule callback"))
	}
}

func (b *Bridge) surface(err error) {
	if b.errorHandler != nil {
		b.errorHandler.HandleError(err)
		return
	}
	b.logger.Warn(err)
}

// wrapDescriptor turns a received descriptor into a net.Conn. The net
// package duplicates the descriptor, so the received copy is closed here
// either way; a failure is fatal for this one delivery only.
func wrapDescriptor(fd int) (net.Conn, error) {
	file := os.NewFile(uintptr(fd), "handoff")
	defer file.Close()
	return net.FileConn(file)
}
