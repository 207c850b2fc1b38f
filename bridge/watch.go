package bridge

import (
	"golang.org/x/sys/unix"
)

// pollWatcher is the default Notifier. One goroutine per installed watch:
// it sleeps until the bridge arms, polls the read end until it turns
// readable, delivers one onReadable call, then waits for the next arming.
// Kicks coalesce, so over-delivery is possible and left to the bridge's
// guard; the watcher itself never spins while the bridge is disarmed.
type pollWatcher struct {
	kick chan struct{}
}

func NewPollWatcher() Notifier {
	return &pollWatcher{kick: make(chan struct{}, 1)}
}

func (w *pollWatcher) Install(readFd int, onReadable func()) error {
	go w.watch(readFd, onReadable)
	return nil
}

func (w *pollWatcher) Arm() {
	select {
	case w.kick <- struct{}{}:
	default:
	}
}

func (w *pollWatcher) watch(readFd int, onReadable func()) {
	pollFds := []unix.PollFd{{Fd: int32(readFd), Events: unix.POLLIN}}
	for range w.kick {
		for {
			pollFds[0].Revents = 0
			n, err := unix.Poll(pollFds, -1)
			if err == unix.EINTR || n == 0 {
				continue
			}
			break
		}
		onReadable()
	}
}
