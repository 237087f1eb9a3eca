// Command oilistener prints the detection datagrams sent by the relay and
// optionally forwards them to websocket viewers.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/nvr-ai/go-vision-relay/console"
	"github.com/nvr-ai/go-vision-relay/wire"
	"github.com/sirupsen/logrus"
)

func main() {
	var (
		port     int
		httpAddr string
		quiet    bool
	)
	flag.IntVar(&port, "port", wire.DefaultPort, "UDP port to listen on")
	flag.StringVar(&httpAddr, "http", "", "Serve websocket viewers on this address, e.g. :8080")
	flag.BoolVar(&quiet, "quiet", false, "Do not print datagrams")
	flag.Parse()

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	log := logrus.WithField("component", "oilistener")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	l, err := console.Listen(net.JoinHostPort("", strconv.Itoa(port)), log)
	if err != nil {
		log.WithError(err).Fatal("failed to bind to server port")
	}
	defer l.Close()

	var hub *console.Hub
	if httpAddr != "" {
		hub = console.NewHub(log.WithField("component", "hub"))
		go hub.Run(ctx)

		mux := http.NewServeMux()
		mux.Handle("/ws", hub)
		srv := &http.Server{Addr: httpAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.WithError(err).Error("websocket server")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	log.WithField("addr", l.Addr().String()).Info("awaiting notification of objects")
	err = l.Run(ctx, func(d wire.Datagram) {
		if !quiet {
			fmt.Print(console.Format(d))
		}
		if hub != nil {
			hub.Broadcast(d)
		}
	})
	if err != nil {
		log.WithError(err).Fatal("failed receiving datagram")
	}
}
