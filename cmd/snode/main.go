package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/lybxkl/snode/cli"
)

func main() {
	configPath := flag.String("c", "", "config file path, defaults to the embedded config.toml")
	flag.Parse()

	if err := cli.Start(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "snode exit: %v\n", err)
		os.Exit(1)
	}
}
