package main

import (
	"flag"

	"go.uber.org/fx"

	"chatcore/internal/daemon"
)

func main() {
	configFlag := flag.String("config", "", "config file path (default ~/.chatcore/config.toml)")
	flag.Parse()

	app := fx.New(
		daemon.Module(daemon.Params{ConfigPath: *configFlag}),
	)

	app.Run()
}
