package main

import (
	"context"
	"flag"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dudk/emustream"
	"github.com/dudk/emustream/config"
	"github.com/dudk/emustream/instance"
	"github.com/dudk/emustream/log"
	"github.com/dudk/emustream/midi"
	"github.com/dudk/emustream/output"
	"github.com/dudk/emustream/output/malgo"
	"github.com/dudk/emustream/output/oto"
	"github.com/dudk/emustream/output/portaudio"
	"github.com/dudk/emustream/psg"
)

// resetPoll is the interval of device reset request checks.
const resetPoll = 100 * time.Millisecond

type playCommand struct {
	config string
	flags  *flag.FlagSet
	// overrides of the config file
	instances    int
	backend      string
	device       string
	bufferSize   int
	bufferCount  int
	format       string
	input        string
	reset        string
	oversampling bool
	stats        bool

	log    log.Logger
	output io.Writer
}

func (cmd *playCommand) Name() string {
	return "play"
}

func (cmd *playCommand) Help() string {
	return "Play raw MIDI input in real time"
}

func (cmd *playCommand) Register(fs *flag.FlagSet) {
	cmd.flags = fs
	fs.StringVar(&cmd.config, "config", "", "YAML configuration file")
	fs.IntVar(&cmd.instances, "instances", config.DefaultInstances, "number of emulator instances, 1..16")
	fs.StringVar(&cmd.backend, "backend", config.DefaultBackend, "output backend: oto, malgo or portaudio")
	fs.StringVar(&cmd.device, "device", "", "output device name or index")
	fs.IntVar(&cmd.bufferSize, "buffer-size", config.DefaultBufferSize, "device buffer size in frames")
	fs.IntVar(&cmd.bufferCount, "buffer-count", config.DefaultBufferCount, "number of device buffers")
	fs.StringVar(&cmd.format, "format", config.DefaultFormat, "sample format: s16, s32 or f32")
	fs.StringVar(&cmd.input, "input", "-", "raw MIDI input device or pipe, - is stdin")
	fs.StringVar(&cmd.reset, "reset", "none", "system reset on start: none, gs or gm")
	fs.BoolVar(&cmd.oversampling, "oversampling", false, "double emulator output rate")
	fs.BoolVar(&cmd.stats, "stats", false, "print metrics on exit")
}

// loadConfig reads config file and applies flags that were set explicitly.
func (cmd *playCommand) loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if cmd.config != "" {
		var err error
		if cfg, err = config.Load(cmd.config); err != nil {
			return nil, err
		}
	}
	set := map[string]bool{}
	if cmd.flags != nil {
		cmd.flags.Visit(func(f *flag.Flag) { set[f.Name] = true })
	}
	// without a config file flag defaults apply
	override := func(name string) bool {
		return cmd.config == "" || set[name]
	}
	if override("instances") {
		cfg.Instances = cmd.instances
	}
	if override("backend") {
		cfg.Backend = cmd.backend
	}
	if override("device") {
		cfg.Output.Device = cmd.device
	}
	if override("buffer-size") {
		cfg.Output.BufferSize = cmd.bufferSize
	}
	if override("buffer-count") {
		cfg.Output.BufferCount = cmd.bufferCount
	}
	if override("format") {
		cfg.Output.Format = cmd.format
	}
	if override("input") || cfg.MIDI.Input == "" {
		cfg.MIDI.Input = cmd.input
	}
	if override("reset") {
		cfg.Reset = cmd.reset
	}
	if override("oversampling") {
		cfg.Oversampling = cmd.oversampling
	}
	if err := cfg.Validate(cmd.log); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newBackend(name string, l log.Logger) output.Backend {
	switch name {
	case config.BackendMalgo:
		return malgo.New(l)
	case config.BackendPortaudio:
		return portaudio.New(l)
	}
	return oto.New(l)
}

func (cmd *playCommand) Run() (err error) {
	cfg, err := cmd.loadConfig()
	if err != nil {
		return err
	}

	var pool instance.Pool
	defer func() {
		var errs emustream.Errors
		errs.Add(err)
		errs.Add(pool.Close())
		err = errs.Ret()
	}()
	for i := 0; i < cfg.Instances; i++ {
		inst, err := instance.New(psg.New(), cfg.InstanceConfig(), instance.WithLogger(cmd.log))
		if err != nil {
			return err
		}
		if err := pool.Add(inst); err != nil {
			return err
		}
	}
	frequency := pool.Instances()[0].Frequency()

	params := output.Params{
		Device:      cfg.Output.Device,
		BufferSize:  cfg.Output.BufferSize,
		BufferCount: cfg.Output.BufferCount,
		Format:      cfg.Format(),
		Frequency:   cfg.Output.Frequency,
	}
	if cfg.Backend != config.BackendPortaudio {
		// no resampling, device runs at emulator rate
		if params.Frequency != 0 && params.Frequency != frequency {
			cmd.log.Warnf("%s backend doesn't resample, using %d Hz", cfg.Backend, frequency)
		}
		params.Frequency = frequency
	}
	backend := newBackend(cfg.Backend, cmd.log)
	if err := backend.Create(params); err != nil {
		return err
	}
	defer func() {
		if derr := backend.Destroy(); err == nil {
			err = derr
		}
	}()
	for _, inst := range pool.Instances() {
		if err := backend.AddSource(inst); err != nil {
			return err
		}
	}

	pool.PostSystemReset(cfg.SystemReset())
	if err := pool.Start(); err != nil {
		return err
	}
	if err := backend.Start(); err != nil {
		var errs emustream.Errors
		errs.Add(err)
		errs.Add(pool.Stop())
		return errs.Ret()
	}
	cmd.log.Infof("playing %d instances at %d Hz through %s, buffer %d x %d frames",
		pool.Len(), backend.Frequency(), cfg.Backend, backend.BufferSize(), cfg.Output.BufferCount)

	err = cmd.loop(cfg, &pool, backend)

	// consumers stop first
	var errs emustream.Errors
	errs.Add(err)
	errs.Add(backend.Stop())
	errs.Add(pool.Stop())
	if cmd.stats {
		printStats(cmd.output)
	}
	return errs.Ret()
}

// loop routes MIDI input until it ends or the process is interrupted and
// serves device reset requests.
func (cmd *playCommand) loop(cfg *config.Config, pool *instance.Pool, backend output.Backend) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	in, err := openInput(cfg.MIDI.Input)
	if err != nil {
		return err
	}
	router := midi.NewRouter(pool.Targets(), midi.WithLogger(cmd.log))
	pumped := make(chan error, 1)
	go func() {
		pumped <- midi.Pump(ctx, in, router, cfg.MIDI.MaxSysEx)
	}()

	resettable, _ := backend.(output.Resettable)
	ticker := time.NewTicker(resetPoll)
	defer ticker.Stop()
	for {
		select {
		case err := <-pumped:
			in.Close()
			return err
		case <-ctx.Done():
			// interrupts blocked read unless it's stdin
			in.Close()
			return nil
		case <-hup:
			if resettable != nil {
				cmd.log.Info("device reset requested")
				resettable.RequestReset()
			}
		case <-ticker.C:
			if resettable != nil && resettable.ResetRequested() {
				if err := resettable.Reset(); err != nil {
					in.Close()
					return err
				}
			}
		}
	}
}

func openInput(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	return os.Open(path)
}
