package main

import "flag"

// Options holds CLI options for the controller.
type Options struct {
	ConfigPath string
	Listen     string
	WorldSize  int
}

// ParseFlags parses CLI flags from args and returns Options.
func ParseFlags(args []string) Options {
	fs := flag.NewFlagSet("horovod-controller", flag.ExitOnError)
	var opts Options
	fs.StringVar(&opts.ConfigPath, "config", "", "Path to YAML config file")
	fs.StringVar(&opts.Listen, "listen", "", "Override transport.address from config")
	fs.IntVar(&opts.WorldSize, "world-size", 0, "Override world_size from config")
	_ = fs.Parse(args)
	return opts
}
