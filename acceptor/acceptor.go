// Package acceptor owns one listening TCP socket per instance and feeds
// every accepted connection's descriptor into a handoff channel.
package acceptor

import (
	E "github.com/flightaware/socketserver/common/exceptions"
	"github.com/flightaware/socketserver/common/log"
	"github.com/flightaware/socketserver/fdpass"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

type Acceptor struct {
	port     uint16
	channel  *fdpass.Channel
	listenFd int
	logger   *logrus.Entry
}

func New(port uint16, channel *fdpass.Channel) *Acceptor {
	return &Acceptor{
		port:    port,
		channel: channel,
		logger:  log.NewLogger("acceptor").WithField("port", port),
	}
}

// Start binds and listens synchronously, so bind and listen failures reach
// the registration caller, then runs the accept loop until process exit.
func (a *Acceptor) Start() error {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return E.Cause(err, "create listen socket")
	}
	unix.CloseOnExec(fd)
	err = unix.Bind(fd, &unix.SockaddrInet4{Port: int(a.port)})
	if err != nil {
		unix.Close(fd)
		return E.Cause(err, "bind port ", a.port)
	}
	err = unix.Listen(fd, unix.SOMAXCONN)
	if err != nil {
		unix.Close(fd)
		return E.Cause(err, "listen on port ", a.port)
	}
	a.listenFd = fd
	go a.loop()
	return nil
}

// Port reports the bound port, which differs from the requested one when
// the acceptor was started on port 0.
func (a *Acceptor) Port() uint16 {
	name, err := unix.Getsockname(a.listenFd)
	if err != nil {
		return a.port
	}
	if inet4, isInet4 := name.(*unix.SockaddrInet4); isInet4 {
		return uint16(inet4.Port)
	}
	return a.port
}

func (a *Acceptor) loop() {
	for {
		connFd, _, err := unix.Accept(a.listenFd)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			// Accept failures are not fatal to the server.
			a.logger.Warn("accept: ", err)
			continue
		}
		a.logger.Debug("connection accepted")
		err = a.channel.Send(connFd)
		if err != nil {
			a.logger.Warn("handoff failed, dropping connection: ", err)
			unix.Close(connFd)
			continue
		}
		if closeAfterHandoff {
			unix.Close(connFd)
		}
	}
}
