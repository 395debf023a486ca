package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/quillmind/metering/internal/app"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to config file (default config.yaml)")
	flag.Parse()

	command := flag.Arg(0)
	if command == "" {
		command = "serve"
	}

	var err error
	switch command {
	case "serve":
		err = app.Run(configPath)
	case "migrate":
		err = app.MigrateOnly(configPath)
	default:
		err = fmt.Errorf("unknown command %q (want serve or migrate)", command)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
