package bridge

import (
	"net"
	"sync"

	E "github.com/flightaware/socketserver/common/exceptions"

	"github.com/eapache/queue"
)

// Loop is the default Dispatcher: a single goroutine draining a callback
// queue, so every callback for a given consumer runs on the same
// execution context, in scheduling order.
type Loop struct {
	access sync.Mutex
	wake   *sync.Cond
	events *queue.Queue
}

type callbackEvent struct {
	handler Handler
	conn    net.Conn
	port    uint16
}

func NewLoop() *Loop {
	loop := &Loop{events: queue.New()}
	loop.wake = sync.NewCond(&loop.access)
	go loop.run()
	return loop
}

func (l *Loop) ScheduleCallback(handler Handler, conn net.Conn, port uint16) error {
	if handler == nil {
		return E.New("no callback registered")
	}
	l.access.Lock()
	l.events.Add(callbackEvent{handler, conn, port})
	l.access.Unlock()
	l.wake.Signal()
	return nil
}

func (l *Loop) run() {
	for {
		l.access.Lock()
		for l.events.Length() == 0 {
			l.wake.Wait()
		}
		event := l.events.Remove().(callbackEvent)
		l.access.Unlock()
		event.handler(event.conn, event.port)
	}
}
