package main

import (
	"os"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog"
	"github.com/snarg/dubsync/internal/config"
)

var version = "dev"

// Globals are the flags shared by every subcommand.
type Globals struct {
	EnvFile  string           `help:"Path to .env file" default:".env" type:"path"`
	LogLevel string           `help:"Log level: trace, debug, info, warn, error (overrides LOG_LEVEL)"`
	Version  kong.VersionFlag `help:"Print version and exit"`
}

var cli struct {
	Globals `embed:""`

	Serve ServeCmd `cmd:"" default:"1" help:"Run the API, job workers, watch folder and MQTT bridge"`
	Dub   DubCmd   `cmd:"" help:"Dub one video file and exit"`
	Sync  SyncCmd  `cmd:"" help:"Synchronize pre-rendered clips against an original track"`
}

func main() {
	ctx := kong.Parse(&cli,
		kong.Name("dubsync"),
		kong.Description("Speech timing synchronization for dubbing: corrects transcription timestamps against the audio, fits synthesized clips into their slots and assembles the dubbed track."),
		kong.UsageOnError(),
		kong.Vars{"version": version},
	)
	if err := ctx.Run(&cli.Globals); err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Str("command", ctx.Command()).Msg("dubsync failed")
	}
}

// load reads configuration with the global overrides applied on top of o.
func (g *Globals) load(o config.Overrides) (*config.Config, zerolog.Logger, error) {
	o.EnvFile = g.EnvFile
	o.LogLevel = g.LogLevel
	cfg, err := config.Load(o)
	if err != nil {
		return nil, zerolog.Nop(), err
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	return cfg, log, nil
}
