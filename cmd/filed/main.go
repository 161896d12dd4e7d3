//go:build linux

// Command filed is a single-threaded static/dynamic file server driven by
// epoll and io_uring (spec §1). It takes no arguments and no flags; the
// listening port and every buffer size are compiled in (internal/config).
package main

import (
	"os"

	"github.com/badu-labs/filed/internal/epoll"
	"github.com/badu-labs/filed/internal/serverlog"
	"github.com/badu-labs/filed/server"
)

func main() {
	log, err := serverlog.New()
	if err != nil {
		os.Exit(1)
	}
	defer log.Sync()

	poller, err := epoll.New()
	if err != nil {
		log.Fatalw("epoll setup failed", "err", err)
	}
	defer poller.Close()

	listenFD, err := server.Listen()
	if err != nil {
		log.Fatalw("listener bootstrap failed", "err", err)
	}

	loop, err := server.NewLoop(listenFD, poller, log)
	if err != nil {
		log.Fatalw("event loop setup failed", "err", err)
	}

	log.Infow("filed listening")
	if err := loop.Run(nil); err != nil {
		log.Fatalw("event loop exited", "err", err)
	}
}
