package main

import (
	"flag"
	"fmt"
	"io"

	"github.com/dudk/emustream/config"
	"github.com/dudk/emustream/output"
	"github.com/dudk/emustream/output/malgo"
	"github.com/dudk/emustream/output/oto"
	"github.com/dudk/emustream/output/portaudio"
)

type devicesCommand struct {
	backend string
	output  io.Writer
}

func (cmd *devicesCommand) Name() string {
	return "devices"
}

func (cmd *devicesCommand) Help() string {
	return "Show the list of output devices"
}

func (cmd *devicesCommand) Register(fs *flag.FlagSet) {
	fs.StringVar(&cmd.backend, "backend", config.DefaultBackend, "output backend: oto, malgo or portaudio")
}

func (cmd *devicesCommand) Run() error {
	var (
		devices []output.DeviceInfo
		err     error
	)
	switch cmd.backend {
	case config.BackendOto:
		devices = oto.Devices()
	case config.BackendMalgo:
		devices, err = malgo.Devices()
	case config.BackendPortaudio:
		devices, err = portaudio.Devices()
	default:
		return fmt.Errorf("%w: %q", config.ErrBackend, cmd.backend)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.output, "Output devices of %s:\n", cmd.backend)
	for _, d := range devices {
		fmt.Fprintf(cmd.output, "\t%d\t%s\n", d.Index, d.Name)
	}
	return nil
}
