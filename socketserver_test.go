package socketserver_test

import (
	"fmt"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/flightaware/socketserver"

	"github.com/stretchr/testify/require"
)

func dialPort(t *testing.T, port uint16) net.Conn {
	conn, err := net.DialTimeout("tcp", fmt.Sprint("127.0.0.1:", port), 3*time.Second)
	require.NoError(t, err)
	return conn
}

func TestClientWithoutServer(t *testing.T) {
	service := socketserver.New()
	err := service.Client(41901, func(conn net.Conn, port uint16) {
		t.Error("callback must never run")
	})
	require.ErrorIs(t, err, socketserver.ErrPortNotFound)

	// The failed registration left no state behind: a server can still
	// be started and consumed normally.
	require.NoError(t, service.Server(41901))
	require.NoError(t, service.Client(41901, func(conn net.Conn, port uint16) {
		conn.Close()
	}))
}

func TestServerIdempotent(t *testing.T) {
	const port = 41902
	service := socketserver.New()
	require.NoError(t, service.Server(port))
	require.NoError(t, service.Server(port))

	// One listening socket serves both: a second connection succeeds
	// while the first is still open.
	first := dialPort(t, port)
	defer first.Close()
	second := dialPort(t, port)
	defer second.Close()
}

func TestDefaultPortResolution(t *testing.T) {
	const port = 41903
	service := socketserver.New()
	require.NoError(t, service.Server(port))

	resolved := make(chan uint16, 1)
	err := service.Client(0, func(conn net.Conn, clientPort uint16) {
		conn.Close()
		resolved <- clientPort
	})
	require.NoError(t, err)

	conn := dialPort(t, port)
	defer conn.Close()

	select {
	case clientPort := <-resolved:
		require.Equal(t, uint16(port), clientPort)
	case <-time.After(3 * time.Second):
		t.Fatal("callback never ran for default port")
	}
}

func TestLiteralZeroFallback(t *testing.T) {
	service := socketserver.New()

	// With no port registered yet, port 0 is taken literally and binds
	// an ephemeral port; the entry then carries the resolved port, not 0.
	require.NoError(t, service.Server(0))
	ports := service.Ports()
	require.Len(t, ports, 1)
	bound := ports[0].Number()
	require.NotZero(t, bound)

	resolved := make(chan uint16, 1)
	require.NoError(t, service.Client(0, func(conn net.Conn, port uint16) {
		conn.Close()
		resolved <- port
	}))

	conn := dialPort(t, bound)
	defer conn.Close()

	select {
	case port := <-resolved:
		require.Equal(t, bound, port)
	case <-time.After(3 * time.Second):
		t.Fatal("callback never ran on the resolved port")
	}
}

func TestEndToEndEcho(t *testing.T) {
	const port = 41904
	service := socketserver.New()
	require.NoError(t, service.Server(port))

	var invocations sync.WaitGroup
	invocations.Add(1)
	err := service.Client(port, func(conn net.Conn, clientPort uint16) {
		go func() {
			defer conn.Close()
			io.Copy(conn, conn)
		}()
		service.Rearm(clientPort)
		invocations.Done()
	})
	require.NoError(t, err)

	conn := dialPort(t, port)
	defer conn.Close()

	message := []byte("hello socketserver")
	_, err = conn.Write(message)
	require.NoError(t, err)
	echoed := make([]byte, len(message))
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, err = io.ReadFull(conn, echoed)
	require.NoError(t, err)
	require.Equal(t, message, echoed)

	invocations.Wait()
}

func TestSequentialDeliveryOrder(t *testing.T) {
	const port = 41905
	const connections = 5
	service := socketserver.New()
	require.NoError(t, service.Server(port))

	var access sync.Mutex
	var order []byte
	err := service.Client(port, func(conn net.Conn, clientPort uint16) {
		marker := make([]byte, 1)
		conn.SetReadDeadline(time.Now().Add(3 * time.Second))
		_, readErr := io.ReadFull(conn, marker)
		conn.Close()
		access.Lock()
		if readErr == nil {
			order = append(order, marker[0])
		}
		access.Unlock()
		service.Rearm(clientPort)
	})
	require.NoError(t, err)

	for i := byte(0); i < connections; i++ {
		conn := dialPort(t, port)
		_, err = conn.Write([]byte{i})
		require.NoError(t, err)
		conn.Close()
	}

	require.Eventually(t, func() bool {
		access.Lock()
		defer access.Unlock()
		return len(order) == connections
	}, 5*time.Second, 10*time.Millisecond)

	access.Lock()
	defer access.Unlock()
	require.Equal(t, []byte{0, 1, 2, 3, 4}, order)
}
