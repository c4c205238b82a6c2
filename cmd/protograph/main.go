package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/hanpama/protograph/internal/eventbus"
	"github.com/hanpama/protograph/internal/executor"
	"github.com/hanpama/protograph/internal/language"
	"github.com/hanpama/protograph/internal/otel"
	"github.com/hanpama/protograph/internal/reqid"
)

const rootUsage = `protograph — incremental GraphQL execution core

USAGE:
  protograph <command> [flags]

COMMANDS:
  run    Execute a query file against the built-in demo schema
  help   Show help for any command
`

const runUsage = `run FLAGS:
  -query <file>            Path to a .graphql query document (required)
  -operation <name>         Operation name, when the document defines more than one
  -otel.endpoint <addr>     OTLP collector endpoint
  -otel.service <name>      OpenTelemetry service name (default: protograph)
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}

func run(args []string) error {
	global := flag.NewFlagSet("protograph", flag.ContinueOnError)
	global.SetOutput(new(bytes.Buffer))
	if err := global.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, rootUsage)
		return err
	}
	remaining := global.Args()
	if len(remaining) == 0 {
		fmt.Fprint(os.Stderr, rootUsage)
		return fmt.Errorf("missing command")
	}

	cmd := remaining[0]
	cmdArgs := remaining[1:]
	switch cmd {
	case "run":
		return cmdRun(cmdArgs)
	case "help":
		return cmdHelp(cmdArgs)
	default:
		fmt.Fprint(os.Stderr, rootUsage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func cmdHelp(args []string) error {
	if len(args) == 0 {
		fmt.Print(rootUsage)
		return nil
	}
	switch args[0] {
	case "run":
		fmt.Print(runUsage)
	default:
		return fmt.Errorf("unknown help topic %q", args[0])
	}
	return nil
}

func cmdRun(args []string) error {
	queryFile := ""
	operationName := ""
	otelEndpoint := ""
	otelService := "protograph"

	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	fs.StringVar(&queryFile, "query", queryFile, "Path to a .graphql query document")
	fs.StringVar(&operationName, "operation", operationName, "Operation name")
	fs.StringVar(&otelEndpoint, "otel.endpoint", otelEndpoint, "OTLP collector endpoint")
	fs.StringVar(&otelService, "otel.service", otelService, "OpenTelemetry service name")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, runUsage)
		return err
	}
	if queryFile == "" {
		fmt.Fprint(os.Stderr, runUsage)
		return fmt.Errorf("-query is required")
	}

	raw, err := os.ReadFile(queryFile)
	if err != nil {
		return fmt.Errorf("read query: %w", err)
	}
	doc, err := language.ParseQuery(string(raw))
	if err != nil {
		return fmt.Errorf("parse query: %w", err)
	}

	eventbus.Use(eventbus.New())

	shutdown, err := otel.Setup(otelEndpoint, otelService)
	if err != nil {
		return fmt.Errorf("otel setup: %w", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	sch := demoSchema()
	exec := executor.NewExecutor(sch, executor.WithFieldResolver(demoResolver))

	ctx, _ := reqid.NewContext(context.Background())
	initial, seq := exec.ExecuteRequest(ctx, doc, operationName, nil, nil)

	enc := json.NewEncoder(os.Stdout)
	if err := enc.Encode(initial); err != nil {
		return err
	}
	if seq == nil {
		return nil
	}
	for {
		patch, ok := seq.Next(ctx)
		if !ok {
			return nil
		}
		if err := enc.Encode(patch); err != nil {
			return err
		}
		if !patch.HasNext {
			return nil
		}
	}
}
