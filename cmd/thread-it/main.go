// Command thread-it runs the design pipeline on a local sketch and
// optionally publishes the result, without starting the HTTP server.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/joho/godotenv"

	"github.com/tjfontaine/threadsketch/internal/artifact"
	"github.com/tjfontaine/threadsketch/internal/config"
	"github.com/tjfontaine/threadsketch/internal/publish"
	"github.com/tjfontaine/threadsketch/pkg/threadsketch"
)

func main() {
	configPath := flag.String("config", config.DefaultConfigFile, "path to config.yaml")
	session := flag.String("session", "", "session id (default: a new one)")
	garment := flag.String("garment", "", "garment type hint for the listing")
	doPublish := flag.Bool("publish", false, "publish the result as a waitlist product")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <sketch.png>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	if err := run(flag.Arg(0), *configPath, *session, *garment, *doPublish); err != nil {
		fmt.Fprintf(os.Stderr, "thread-it: %v\n", err)
		os.Exit(1)
	}
}

func run(sketchPath, configPath, session, garment string, doPublish bool) error {
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	raw, err := os.ReadFile(sketchPath)
	if err != nil {
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	app, err := threadsketch.New(threadsketch.WithConfig(cfg), threadsketch.WithLogger(logger))
	if err != nil {
		return err
	}
	defer app.Shutdown(context.Background())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if session == "" {
		session = artifact.NewSession()
	}

	result, err := app.Pipeline().Run(ctx, session, raw)
	if err != nil {
		return err
	}

	out := map[string]any{"pipeline": result}
	if doPublish {
		pub, err := app.Publisher().Publish(ctx, publish.Request{Session: session, GarmentType: garment})
		if err != nil {
			return err
		}
		out["publish"] = pub
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
