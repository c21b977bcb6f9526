package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/dudk/emustream/log"
	"github.com/dudk/emustream/metric"
)

type command interface {
	Name() string
	Help() string
	Run() error
	Register(*flag.FlagSet)
}

type app struct {
	args     []string
	out      io.Writer
	commands []command
}

func (a *app) run() int {
	cmdName, args := parseArgs(a.args)
	if cmdName == "" {
		a.printUsage()
		return errorExitCode
	}

	for _, cmd := range a.commands {
		if cmd.Name() == cmdName {
			flags := flag.NewFlagSet(cmdName, flag.ContinueOnError)
			flags.SetOutput(a.out)
			cmd.Register(flags)
			if err := flags.Parse(args); err != nil {
				return errorExitCode
			}
			if err := cmd.Run(); err != nil {
				fmt.Fprintf(a.out, "Command failed: %v\n", err)
				return errorExitCode
			}
			return successExitCode
		}
	}
	fmt.Fprintf(a.out, "Unknown command: %s\n\n", cmdName)
	a.printUsage()
	return errorExitCode
}

const (
	successExitCode = 0
	errorExitCode   = 1
)

func newCommands(out io.Writer) []command {
	l := log.GetLogger()
	return []command{
		&playCommand{log: l, output: out},
		&renderCommand{log: l, output: out},
		&devicesCommand{output: out},
	}
}

func main() {
	a := app{
		args:     os.Args,
		out:      os.Stdout,
		commands: newCommands(os.Stdout),
	}
	os.Exit(a.run())
}

func parseArgs(args []string) (string, []string) {
	if len(args) < 2 {
		return "", nil
	}
	return args[1], args[2:]
}

func (a *app) printUsage() {
	fmt.Fprintln(a.out, "Emustream plays and renders MIDI with emulated sound modules")
	fmt.Fprintln(a.out)
	fmt.Fprintln(a.out, "Usage: emustream <command> [flags]")
	fmt.Fprintln(a.out)
	fmt.Fprintln(a.out, "Commands:")
	for _, cmd := range a.commands {
		fmt.Fprintf(a.out, "\t%s\t%s\n", cmd.Name(), cmd.Help())
	}
}

// printStats dumps metrics of all components.
func printStats(out io.Writer) {
	all := metric.GetAll()
	components := make([]string, 0, len(all))
	for c := range all {
		components = append(components, c)
	}
	sort.Strings(components)
	for _, c := range components {
		counters := all[c]
		names := make([]string, 0, len(counters))
		for n := range counters {
			names = append(names, n)
		}
		sort.Strings(names)
		fmt.Fprintf(out, "%s:\n", c)
		for _, n := range names {
			fmt.Fprintf(out, "\t%s: %s\n", n, counters[n])
		}
	}
}
