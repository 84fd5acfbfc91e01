package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/petems/obridge/internal/app"
	"github.com/petems/obridge/internal/audio"
	"github.com/petems/obridge/internal/config"
	"github.com/petems/obridge/internal/device"
	"github.com/petems/obridge/internal/logging"
	"github.com/petems/obridge/internal/worker"
	"github.com/rs/zerolog"
)

var (
	// Version is set via ldflags at build time
	Version = "dev"
	// Commit is set via ldflags at build time
	Commit = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr, logging.New()))
}

func run(args []string, stdout, stderr io.Writer, log zerolog.Logger) int {
	// Signals are routed before anything else so that no instance can ever
	// run without being reachable by them.
	dispatcher := app.NewDispatcher(log)
	dispatcher.Install()
	defer dispatcher.Close()

	file, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return 1
	}

	opts, err := config.Parse(args, config.Defaults(file))
	if err != nil {
		if errors.Is(err, config.ErrUsage) {
			fmt.Fprintf(stderr, "%v\n\n%s", err, config.Usage("obridge"))
		} else {
			fmt.Fprintf(stderr, "%s\n", capitalize(err.Error()))
		}
		return 1
	}
	if opts.Help {
		fmt.Fprintf(stdout, "obridge %s (%s)\n%s", Version, Commit, config.Usage("obridge"))
		return 0
	}

	logging.SetVerbosity(opts.Verbosity)
	for _, w := range opts.Warnings {
		log.Warn().Msg(w)
	}

	usb := device.NewUSB(opts.VendorID)
	enum := device.NewEnumerator(usb, log)

	if opts.ListDevices {
		lister := app.New(app.Config{Enumerator: enum, Logger: log})
		if err := lister.List(stdout); err != nil {
			fmt.Fprintf(stderr, "USB error: %v\n", err)
			return 1
		}
		if opts.Verbosity > 0 {
			listOutputs(stdout, log)
		}
		return 0
	}

	// Every worker plays through the same host audio session, which lives
	// until the last worker has returned.
	host, err := audio.New()
	if err != nil {
		log.Error().Err(err).Msg("Could not open host audio")
		return 1
	}
	defer host.Close()

	application := app.New(app.Config{
		Enumerator: enum,
		NewWorker:  worker.NewFactory(usb, host, log),
		Dispatcher: dispatcher,
		Logger:     log,
	})

	log.Debug().
		Stringer("selection", opts.Selection).
		Int("quality", opts.Quality).
		Int("blocks", opts.Blocks).
		Int("priority", opts.Priority).
		Msg("Starting")

	if err := application.Run(opts); err != nil {
		log.Error().Err(err).Msg("Run failed")
		return 1
	}
	return 0
}

// listOutputs prints the host audio outputs the workers can play through.
func listOutputs(w io.Writer, log zerolog.Logger) {
	host, err := audio.New()
	if err != nil {
		log.Warn().Err(err).Msg("Could not open host audio")
		return
	}
	defer host.Close()

	fmt.Fprintln(w, "Host outputs:")
	if err := audio.PrintEndpoints(w, host); err != nil {
		log.Warn().Err(err).Msg("Could not list host outputs")
	}
}

func capitalize(s string) string {
	if s == "" || s[0] < 'a' || s[0] > 'z' {
		return s
	}
	return string(s[0]-32) + s[1:]
}
