package main

import (
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/flightaware/socketserver"
	"github.com/flightaware/socketserver/common"
	"github.com/flightaware/socketserver/common/log"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type flags struct {
	Port    uint16
	Verbose bool
}

func main() {
	f := new(flags)

	command := &cobra.Command{
		Use:     "socketserver-echo",
		Short:   "echo server over a socketserver handoff pipeline",
		Version: socketserver.VersionStr,
		Run: func(cmd *cobra.Command, args []string) {
			run(f)
		},
	}

	command.Flags().Uint16VarP(&f.Port, "port", "p", 9001, "Set the TCP port to listen on.")
	command.Flags().BoolVarP(&f.Verbose, "verbose", "v", false, "Enable verbose mode.")

	err := command.Execute()
	if err != nil {
		logrus.Fatal(err)
	}
}

func run(f *flags) {
	if f.Verbose {
		log.SetVerbose()
	}

	service := socketserver.New()
	err := service.Server(f.Port)
	if err != nil {
		logrus.Fatal(err)
	}
	err = service.Client(f.Port, func(conn net.Conn, port uint16) {
		logrus.Info("connection from ", conn.RemoteAddr(), " on port ", port)
		go echo(conn)
		service.Rearm(port)
	})
	if err != nil {
		logrus.Fatal(err)
	}
	logrus.Info("listening on port ", f.Port)

	osSignals := make(chan os.Signal, 1)
	signal.Notify(osSignals, os.Interrupt, syscall.SIGTERM)
	<-osSignals
}

func echo(conn net.Conn) {
	defer common.Close(conn)
	_, err := io.Copy(conn, conn)
	if err != nil {
		logrus.Debug("echo finished: ", err)
	}
}
