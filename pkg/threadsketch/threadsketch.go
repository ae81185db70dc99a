// Package threadsketch provides the public API for embedding the ThreadSketch
// service. This is the stable API for external consumers.
package threadsketch

import (
	"github.com/tjfontaine/threadsketch/internal/runtime"
)

// App is the assembled service.
// See internal/runtime.App for full documentation.
type App = runtime.App

// Option is a functional option for configuring an App.
type Option = runtime.Option

// New creates a new App with the given options.
// Example:
//
//	app, err := threadsketch.New(
//	    threadsketch.WithConfigFile("config.yaml"),
//	)
var New = runtime.New

// Configuration options
var (
	// Config sources
	WithConfig     = runtime.WithConfig
	WithConfigFile = runtime.WithConfigFile

	// Storage
	WithLedger = runtime.WithLedger

	// Capabilities
	WithImageGenerator = runtime.WithImageGenerator
	WithTextGenerator  = runtime.WithTextGenerator
	WithCommerce       = runtime.WithCommerce

	WithLogger = runtime.WithLogger
)
