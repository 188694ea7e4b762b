// Command ingend is a small CLI front end for the engine, grounded on the
// teacher's cmd/phono command-dispatch shape (main.go/list.go): a flat set
// of subcommands, each owning its own flag.FlagSet.
package main

import (
	"flag"
	"fmt"
	"os"
)

type command interface {
	Name() string
	Help() string
	Register(*flag.FlagSet)
	Run() error
}

var (
	successExitCode = 0
	errorExitCode   = 1
	commands        = []command{&runCommand{}}
)

type config struct {
	args []string
}

func (c *config) run() int {
	name, args := parseArgs(c.args)
	if name == "" {
		printUsage()
		return errorExitCode
	}

	for _, cmd := range commands {
		if cmd.Name() != name {
			continue
		}
		flags := flag.NewFlagSet(name, flag.ExitOnError)
		cmd.Register(flags)
		if err := flags.Parse(args); err != nil {
			flags.PrintDefaults()
			return errorExitCode
		}
		if err := cmd.Run(); err != nil {
			fmt.Printf("Command failed: %v\n", err)
			return errorExitCode
		}
		return successExitCode
	}

	printUsage()
	return errorExitCode
}

func parseArgs(args []string) (string, []string) {
	if len(args) < 2 {
		return "", nil
	}
	return args[1], args[2:]
}

func printUsage() {
	fmt.Println("ingend is a realtime audio graph engine")
	fmt.Println()
	fmt.Println("Usage: ingend <command>")
	fmt.Println()
	fmt.Println("Commands:")
	for _, cmd := range commands {
		fmt.Printf("\t%s\t%s\n", cmd.Name(), cmd.Help())
	}
}

func main() {
	c := config{args: os.Args}
	os.Exit(c.run())
}
