// This tool serves the two transcription endpoints locally. Instead of
// recognizing speech it describes the uploaded audio, which is enough to
// exercise the transcribe command end to end.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := run(ctx, os.Args[1:])
	if err != nil {
		logrus.Fatal(err)
	}
}

func run(ctx context.Context, args []string) error {
	flagSet := flag.NewFlagSet("stt-stub", flag.ContinueOnError)

	addr := flagSet.String("addr", ":5000", "listen address")
	debug := flagSet.Bool("debug", false, "enable debug logging")

	err := flagSet.Parse(args)
	if err != nil {
		return err
	}

	logger := logrus.New()
	if *debug {
		logger.SetLevel(logrus.DebugLevel)
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           newHandler(logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)

	go func() {
		logger.WithField("addr", *addr).Info("Starting transcription stub")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return err
	case <-ctx.Done():
		logger.Info("Shutting down transcription stub")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		return srv.Shutdown(shutdownCtx)
	}
}
