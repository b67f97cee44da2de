package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"brinetank-iot/internal/config"
	logpkg "brinetank-iot/pkg/logger"
)

const usage = `usage: brinetank-ctl <command> [flags]

commands:
  migrate                              create Postgres tables
  seed    -f sensors.yaml              import sensor recipients / thresholds
  trigger -sensor ID -level PCT [-to addr,...] [-ts TS] [-via local|stream]
  latest  -device ID                   print the latest snapshot
  export  -device ID -o out.xlsx [-from TS] [-to TS] [-limit N]
  publish -device ID -distance CM [-temp C] [-status N]   send a test reading over MQTT
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logpkg.NewLogger(cfg.Log.Level, "console", "brinetank-ctl")
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	c := &cli{cfg: cfg, logger: logger, out: os.Stdout}
	if err := c.run(context.Background(), os.Args[1], os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}
