package main

import (
	"flag"

	"go.uber.org/fx"

	"github.com/guileen/pgcluster/app"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration file")
	flag.Parse()

	// Run blocks until SIGINT or SIGTERM, then stops the application
	fx.New(app.Module(*configPath)).Run()
}
