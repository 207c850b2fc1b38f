// Package fdpass moves open file descriptors between a single writer and a
// single reader over a unix socketpair, one descriptor per message.
package fdpass

import (
	"sync/atomic"

	E "github.com/flightaware/socketserver/common/exceptions"

	"golang.org/x/sys/unix"
)

var (
	// ErrNoData reports that no descriptor was pending on a non-blocking
	// receive. It covers spurious wake-ups and is not a transport failure.
	ErrNoData = E.New("fdpass: no descriptor pending")

	// ErrClosed reports that the channel end needed for the operation
	// is gone.
	ErrClosed = E.New("fdpass: channel closed")
)

// Channel is a stream of discrete descriptor-bearing messages. Each Send
// carries exactly one descriptor in the control data of a one-byte message,
// and each successful Receive consumes exactly one such message.
//
// The ends are retired atomically on close, so closing either end is safe
// against a send or receive running on another goroutine: the concurrent
// call observes ErrClosed instead of a recycled descriptor number.
type Channel struct {
	writeFd atomic.Int32
	readFd  atomic.Int32
}

func Pair() (*Channel, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, E.Cause(err, "create socketpair")
	}
	unix.CloseOnExec(fds[0])
	unix.CloseOnExec(fds[1])
	channel := new(Channel)
	channel.writeFd.Store(int32(fds[0]))
	channel.readFd.Store(int32(fds[1]))
	return channel, nil
}

// ReadFd exposes the read end for readiness watching.
func (c *Channel) ReadFd() int {
	return int(c.readFd.Load())
}

// SetReadNonblock puts the read end into non-blocking mode so that a
// receive attempt never stalls the consumer context.
func (c *Channel) SetReadNonblock() error {
	readFd := c.readFd.Load()
	if readFd == -1 {
		return ErrClosed
	}
	return unix.SetNonblock(int(readFd), true)
}

// Send transmits one open descriptor. The kernel holds its own reference
// once the message is queued; whether the caller's copy must then be
// closed is platform-dependent and is the caller's concern.
func (c *Channel) Send(fd int) error {
	writeFd := c.writeFd.Load()
	if writeFd == -1 {
		return ErrClosed
	}
	err := unix.Sendmsg(int(writeFd), []byte{0}, unix.UnixRights(fd), nil, 0)
	if err != nil {
		return E.Cause(err, "send descriptor")
	}
	return nil
}

// Receive attempts to read one pending descriptor. ErrNoData means nothing
// was pending; ErrClosed means the writer is gone; anything else is a
// transport-level failure. The received descriptor is owned by the caller.
func (c *Channel) Receive() (int, error) {
	readFd := c.readFd.Load()
	if readFd == -1 {
		return -1, ErrClosed
	}
	payload := make([]byte, 1)
	oob := make([]byte, unix.CmsgSpace(4))
	n, oobn, _, _, err := unix.Recvmsg(int(readFd), payload, oob, 0)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EINTR {
			return -1, ErrNoData
		}
		return -1, E.Cause(err, "receive descriptor")
	}
	if n == 0 {
		return -1, ErrClosed
	}
	messages, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil {
		return -1, E.Cause(err, "parse control message")
	}
	for i := range messages {
		fds, err := unix.ParseUnixRights(&messages[i])
		if err != nil {
			continue
		}
		if len(fds) > 0 {
			unix.CloseOnExec(fds[0])
			return fds[0], nil
		}
	}
	return -1, E.New("message carried no descriptor")
}

// CloseWrite shuts the write side down; pending messages remain readable.
func (c *Channel) CloseWrite() error {
	writeFd := c.writeFd.Swap(-1)
	if writeFd == -1 {
		return nil
	}
	return unix.Close(int(writeFd))
}

func (c *Channel) Close() error {
	c.CloseWrite()
	readFd := c.readFd.Swap(-1)
	if readFd == -1 {
		return nil
	}
	return unix.Close(int(readFd))
}
