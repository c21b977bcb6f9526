package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/dudk/emustream"
	"github.com/dudk/emustream/log"
	"github.com/dudk/emustream/mp3"
	"github.com/dudk/emustream/psg"
	"github.com/dudk/emustream/render"
	esignal "github.com/dudk/emustream/signal"
	"github.com/dudk/emustream/smf"
	"github.com/dudk/emustream/wav"
)

type renderCommand struct {
	in           string
	out          string
	instances    int
	format       string
	reset        string
	oversampling bool
	bitRate      int
	stats        bool

	log    log.Logger
	output io.Writer
}

func (cmd *renderCommand) Name() string {
	return "render"
}

func (cmd *renderCommand) Help() string {
	return "Render a MIDI file into wav or mp3"
}

func (cmd *renderCommand) Register(fs *flag.FlagSet) {
	fs.StringVar(&cmd.in, "in", "", "input MIDI file (required)")
	fs.StringVar(&cmd.out, "out", "", "output file, .wav or .mp3 (required)")
	fs.IntVar(&cmd.instances, "instances", 1, "number of emulator instances, 1..16")
	fs.StringVar(&cmd.format, "format", "s16", "sample format: s16, s32 or f32")
	fs.StringVar(&cmd.reset, "reset", "none", "system reset before rendering: none, gs or gm")
	fs.BoolVar(&cmd.oversampling, "oversampling", false, "double emulator output rate")
	fs.IntVar(&cmd.bitRate, "bitrate", mp3.DefaultBitRate, "mp3 bit rate")
	fs.BoolVar(&cmd.stats, "stats", false, "print metrics on exit")
}

func (cmd *renderCommand) Validate() error {
	var missing []string
	if cmd.in == "" {
		missing = append(missing, "-in")
	}
	if cmd.out == "" {
		missing = append(missing, "-out")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required flags: %s", strings.Join(missing, ", "))
	}
	return nil
}

func (cmd *renderCommand) Run() error {
	if err := cmd.Validate(); err != nil {
		return err
	}
	format, err := esignal.ParseFormat(cmd.format)
	if err != nil {
		return err
	}
	reset, err := emustream.ParseSystemReset(cmd.reset)
	if err != nil {
		return err
	}
	var sink interface{ Write(*render.Mixdown) error }
	switch strings.ToLower(filepath.Ext(cmd.out)) {
	case ".wav":
		sink = wav.NewSink(cmd.out)
	case ".mp3":
		sink = mp3.NewSink(cmd.out, cmd.bitRate, mp3.DefaultQuality)
	default:
		return fmt.Errorf("unsupported output file %q", cmd.out)
	}

	f, err := smf.Load(cmd.in)
	if err != nil {
		return err
	}
	merged := f.Merge()
	events := make([]render.Event, len(merged.Events))
	for i := range merged.Events {
		events[i] = merged.Events[i]
	}

	r, err := render.New(
		func() emustream.Emulator { return psg.New() },
		render.WithInstances(cmd.instances),
		render.WithFormat(format),
		render.WithOversampling(cmd.oversampling),
		render.WithReset(reset, render.DefaultResetSteps),
		render.WithProgress(render.DefaultProgressInterval, newProgress(cmd.output)),
		render.WithLogger(cmd.log),
	)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	start := time.Now()
	m, err := r.Render(ctx, events, f.Header.Division)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return errors.New("render interrupted")
		}
		return err
	}
	if err := sink.Write(m); err != nil {
		return err
	}
	cmd.log.Infof("rendered %v of audio in %v to %s",
		esignal.DurationOf(m.SampleRate, int64(m.Len())).Round(time.Millisecond),
		time.Since(start).Round(time.Millisecond), cmd.out)
	if cmd.stats {
		printStats(cmd.output)
	}
	return nil
}

// newProgress returns a progress printer. On a terminal the status lines
// are redrawn in place.
func newProgress(out io.Writer) render.ProgressFunc {
	interactive := false
	if f, ok := out.(*os.File); ok {
		interactive = term.IsTerminal(int(f.Fd()))
	}
	eol := "\n"
	if interactive {
		// clear the rest of a redrawn line
		eol = "\x1b[K\n"
	}
	drawn := 0
	return func(statuses []render.Status) {
		if interactive && drawn > 0 {
			fmt.Fprintf(out, "\x1b[%dF", drawn)
		}
		for _, s := range statuses {
			percent := 100.0
			if s.Total > 0 {
				percent = 100 * float64(s.Processed) / float64(s.Total)
			}
			state := ""
			if s.Done {
				state = " done"
			}
			fmt.Fprintf(out, "instance %2d: %6.2f%% (%d/%d events)%s%s",
				s.Instance, percent, s.Processed, s.Total, state, eol)
		}
		drawn = len(statuses)
	}
}
