package main

import (
	"os"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/dkeye/Consult/internal/logging"
)

func main() {
	logging.Bootstrap()

	app := &cli.App{
		Name:  "consult-call",
		Usage: "join a doctor/patient consultation as one participant",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "config file (default config/config.$CONFIG_ENV.yaml)",
			},
			&cli.StringFlag{
				Name:     "room",
				Usage:    "relay room id",
				Required: true,
				EnvVars:  []string{"CONSULT_ROOM"},
			},
			&cli.StringFlag{
				Name:     "booking",
				Usage:    "booking id the room belongs to",
				Required: true,
				EnvVars:  []string{"CONSULT_BOOKING"},
			},
			&cli.StringFlag{
				Name:  "role",
				Usage: "doctor or patient",
			},
			&cli.StringFlag{
				Name:    "token",
				Usage:   "relay auth token",
				EnvVars: []string{"CONSULT_TOKEN"},
			},
			&cli.StringFlag{
				Name:  "relay",
				Usage: "relay websocket url",
			},
			&cli.StringFlag{
				Name:  "source",
				Usage: "media source: device or synthetic",
			},
			&cli.BoolFlag{
				Name:  "no-video",
				Usage: "join audio only",
			},
			&cli.StringFlag{
				Name:  "record-dir",
				Usage: "write remote tracks to this directory",
			},
			&cli.DurationFlag{
				Name:  "duration",
				Usage: "hang up after this long (0 waits for the peer or a signal)",
			},
			&cli.BoolFlag{
				Name:    "interactive",
				Aliases: []string{"i"},
				Usage:   "read a/v/q commands from stdin to toggle audio, video or hang up",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("call failed")
	}
}
