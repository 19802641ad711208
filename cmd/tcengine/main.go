// cmd/tcengine/main.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

// tcengine runs the traffic and conflict engine over a world file, either
// in real time with an optional status server or for a fixed number of
// ticks as fast as possible.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	av "github.com/tcengine/tcengine/aviation"
	"github.com/tcengine/tcengine/log"
	"github.com/tcengine/tcengine/server"
	"github.com/tcengine/tcengine/sim"
	"github.com/tcengine/tcengine/util"

	"github.com/goforj/godump"
	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/sync/errgroup"
)

var (
	worldFilename  = flag.String("world", "", "filename of JSON file with the world definition")
	configFilename = flag.String("config", "", "filename of TOML file with engine tuning (defaults are used if not given)")
	logLevel       = flag.String("loglevel", "info", "logging level: debug, info, warn, error")
	logDir         = flag.String("logdir", "", "log file directory")
	numTicks       = flag.Int("ticks", 0, "run this many ticks as fast as possible and exit (0 runs in real time until interrupted)")
	seed           = flag.Int64("seed", 0, "random seed (0 uses the current time)")
	httpPort       = flag.Int("http", 0, fmt.Sprintf("port for the status server, e.g. %d (0 disables it)", server.DefaultPort))
	recordFilename = flag.String("record", "", "write a zstd-compressed msgpack stream of per-tick snapshots to this file")
	saveFilename   = flag.String("save", "", "write the final snapshot to this file")
	dumpFilename   = flag.String("dump", "", "print a summary of each snapshot in a recording or saved snapshot and exit")
	batch          = flag.Bool("batch", false, "run -world and every world file given as an argument concurrently for -ticks ticks")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: tcengine -world world.json [flags] [world.json...]\nwhere [flags] may be:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	lg := log.New(*numTicks == 0, *logLevel, *logDir)

	if *dumpFilename != "" {
		if err := dumpRecording(*dumpFilename, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", *dumpFilename, err)
			os.Exit(1)
		}
		return
	}

	cfg := sim.DefaultConfig()
	if *configFilename != "" {
		var err error
		if cfg, err = sim.LoadConfig(*configFilename, lg); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", *configFilename, err)
			os.Exit(1)
		}
	}
	if *logLevel == "debug" {
		lg.Debug("engine configuration", slog.String("config", godump.DumpStr(cfg)))
	}

	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	if *batch {
		worlds := flag.Args()
		if *worldFilename != "" {
			worlds = append([]string{*worldFilename}, worlds...)
		}
		err = runBatch(ctx, worlds, cfg, lg)
	} else {
		if *worldFilename == "" {
			flag.Usage()
			os.Exit(1)
		}
		err = runWorld(ctx, *worldFilename, cfg, lg)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		lg.Errorf("%v", err)
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func runWorld(ctx context.Context, filename string, cfg sim.Config, lg *log.Logger) error {
	w, err := av.LoadWorldFile(filename)
	if err != nil {
		return err
	}

	e, err := sim.NewEngine(w, cfg, *seed, lg)
	if err != nil {
		return err
	}
	defer e.Destroy()

	dr := newDeadReckoner(e, lg)
	integrate := dr.Integrate

	if *recordFilename != "" {
		rec, err := util.CreateRecorder(*recordFilename)
		if err != nil {
			return err
		}
		defer func() {
			// The final tick's snapshot.
			if err := rec.Record(e.Snapshot()); err != nil {
				lg.Errorf("%s: %v", *recordFilename, err)
			}
			if err := rec.Close(); err != nil {
				lg.Errorf("%s: %v", *recordFilename, err)
			}
			lg.Info("recording closed", slog.String("path", *recordFilename), slog.Int("snapshots", rec.Count()))
		}()

		// The snapshot published by the previous step is recorded before
		// the aircraft move for the next one.
		integrate = func(dt float32) {
			if err := rec.Record(e.Snapshot()); err != nil {
				lg.Errorf("%s: %v", *recordFilename, err)
			}
			dr.Integrate(dt)
		}
	}

	if *httpPort != 0 {
		srv := server.NewStatusServer(w, e, lg)
		if err := srv.Launch(ctx, *httpPort); err != nil {
			lg.Warnf("%v", err)
		} else {
			fmt.Printf("Status server on port %d\n", srv.Port)
		}
	}

	lg.Info("starting engine", slog.String("world", w.Name), slog.Int64("seed", *seed),
		slog.String("mode", util.Select(*numTicks > 0, "fixed ticks", "real time")))
	if *numTicks > 0 {
		err = e.RunTicks(ctx, *numTicks, integrate)
	} else {
		err = e.Run(ctx, integrate)
	}

	snap := e.Snapshot()
	printSummary(os.Stdout, w.Name, snap)
	if *saveFilename != "" {
		if serr := util.StoreObject(*saveFilename, snap); serr != nil {
			lg.Errorf("%s: %v", *saveFilename, serr)
		}
	}
	return err
}

// runBatch runs each world on its own engine, without recording or the
// status server, and reports each one's outcome.
func runBatch(ctx context.Context, worlds []string, cfg sim.Config, lg *log.Logger) error {
	if len(worlds) == 0 {
		return errors.New("no world files given")
	}
	if *numTicks <= 0 {
		return errors.New("-batch requires -ticks")
	}
	if *recordFilename != "" || *httpPort != 0 || *saveFilename != "" {
		lg.Warn("-record, -save, and -http are ignored in batch mode")
	}

	var eg errgroup.Group
	for i, fn := range worlds {
		eg.Go(func() error {
			w, err := av.LoadWorldFile(fn)
			if err != nil {
				return err
			}

			wlg := lg.With(slog.String("world", filepath.Base(fn)))
			e, err := sim.NewEngine(w, cfg, *seed+int64(i), wlg)
			if err != nil {
				return fmt.Errorf("%s: %w", fn, err)
			}
			defer e.Destroy()

			dr := newDeadReckoner(e, wlg)
			if err := e.RunTicks(ctx, *numTicks, dr.Integrate); err != nil {
				return fmt.Errorf("%s: %w", fn, err)
			}
			printSummary(os.Stdout, w.Name, e.Snapshot())
			return nil
		})
	}
	return eg.Wait()
}

func printSummary(w io.Writer, name string, snap sim.Snapshot) {
	arrivals := util.FilterSlice(snap.Aircraft, func(ac av.Aircraft) bool { return ac.Type == av.FlightTypeArrival })
	departures := util.FilterSlice(snap.Aircraft, func(ac av.Aircraft) bool { return ac.Type == av.FlightTypeDeparture })

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: tick %d (%s), %d arrivals, %d departures, ", name, snap.Tick,
		time.Duration(snap.TimeS*float64(time.Second)).Round(time.Second), len(arrivals), len(departures))
	fmt.Fprintf(&sb, "%d conflicts, %d predicted, score %d (high %d)", len(snap.Conflicts), len(snap.Predicted),
		snap.Score, snap.HighScore)
	fmt.Fprintln(w, sb.String())
}

// dumpRecording prints one summary line per snapshot, followed by its
// conflicts. Files written by -save hold a single snapshot and are read
// the same way.
func dumpRecording(path string, w io.Writer) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	name := filepath.Base(path)
	return util.ReadRecording(f, func(dec *msgpack.Decoder) error {
		var snap sim.Snapshot
		if err := dec.Decode(&snap); err != nil {
			return err
		}
		printSummary(w, name, snap)
		for _, c := range snap.Conflicts {
			fmt.Fprintf(w, "\t%s\n", c)
		}
		return nil
	})
}
