// Command eventmap-gen generates codec registration code for a package of
// domain events.
//
// Usage:
//
//	go run github.com/getpup/eventlog/cmd/eventmap-gen --input internal/scopes/events
//
// Or with go generate, from inside the events package:
//
//	//go:generate go run github.com/getpup/eventlog/cmd/eventmap-gen --input .
//
// Every exported struct embedding es.Base is registered under its name,
// or under the tag given by an //eventlog:type directive. The generated
// file declares RegisterEvents and EventTypes:
//
//	registry := codec.NewRegistry()
//	if err := events.RegisterEvents(registry); err != nil {
//	    return err
//	}
//	serializer := codec.NewJSON(registry)
package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/getpup/eventlog/es/eventmap"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := pflag.NewFlagSet("eventmap-gen", pflag.ContinueOnError)
	var (
		inputDir   = flags.StringP("input", "i", "", "Directory of the events package (required)")
		outputDir  = flags.StringP("output", "o", "", "Output directory for generated code (default: input directory)")
		outputFile = flags.String("filename", eventmap.DefaultConfig().OutputFile, "Output filename")
	)
	if err := flags.Parse(args); err != nil {
		return err
	}

	if *inputDir == "" {
		flags.Usage()
		return errors.New("--input flag is required")
	}

	absInputDir, err := filepath.Abs(*inputDir)
	if err != nil {
		return fmt.Errorf("invalid input directory: %w", err)
	}
	absOutputDir := absInputDir
	if *outputDir != "" {
		if absOutputDir, err = filepath.Abs(*outputDir); err != nil {
			return fmt.Errorf("invalid output directory: %w", err)
		}
	}

	generator := eventmap.NewGenerator(&eventmap.Config{
		InputDir:   absInputDir,
		OutputDir:  absOutputDir,
		OutputFile: *outputFile,
	})

	fmt.Printf("Discovering events in %s...\n", absInputDir)
	if err := generator.Discover(); err != nil {
		return fmt.Errorf("discovering events: %w", err)
	}
	if err := generator.Generate(); err != nil {
		return fmt.Errorf("generating code: %w", err)
	}

	fmt.Printf("Registered %d events in %s\n", len(generator.Events()), filepath.Join(absOutputDir, *outputFile))
	return nil
}
