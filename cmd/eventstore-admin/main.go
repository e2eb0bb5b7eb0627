// Package main is a small operator tool for manually appending events to, or
// dumping, a stream against a running event store. Useful for
// smoke-testing a fresh migration or reproducing a reported version
// conflict without writing a throwaway client program.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/eventedge/eventstore/internal/config"
	"github.com/eventedge/eventstore/internal/eventstore"
	pgstore "github.com/eventedge/eventstore/internal/eventstore/postgres"
	litestore "github.com/eventedge/eventstore/internal/eventstore/sqlite"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "append":
		err = runAppend(os.Args[2:])
	case "read-stream":
		err = runReadStream(os.Args[2:])
	case "help", "--help", "-h":
		printUsage()
		return
	default:
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "eventstore-admin:", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `usage: eventstore-admin <command> [flags]

commands:
  append       append one event to a stream
  read-stream  dump a stream's events as JSON`)
}

func openStore(driver, dbURL string) (eventstore.Store, error) {
	ctx := context.Background()
	switch driver {
	case "postgres":
		return pgstore.Open(ctx, dbURL)
	case "sqlite":
		return litestore.Open(ctx, dbURL)
	default:
		return nil, fmt.Errorf("unknown db driver %q", driver)
	}
}

func runAppend(args []string) error {
	fs := flag.NewFlagSet("append", flag.ExitOnError)
	dbDriver := fs.String("db-driver", config.GetEnv("EVENTSTORE_DB_DRIVER", "sqlite"), "\"postgres\" or \"sqlite\"")
	dbURL := fs.String("db-url", config.GetEnv("EVENTSTORE_DB_URL", ""), "database connection string")
	partition := fs.String("partition", eventstore.DefaultPartition, "tenant partition")
	streamID := fs.String("stream-id", "", "stream to append to")
	eventType := fs.String("type", "", "event type")
	data := fs.String("data", "{}", "JSON event payload")
	metadata := fs.String("metadata", "", "JSON event metadata")
	expectedVersion := fs.Int64("expected-version", 0, "expected stream version, or -1/-2 for STREAM_EXISTS/STREAM_DOES_NOT_EXIST")
	noConcurrencyCheck := fs.Bool("no-concurrency-check", false, "skip expected-version enforcement (NO_CONCURRENCY_CHECK)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *streamID == "" || *eventType == "" {
		return fmt.Errorf("-stream-id and -type are required")
	}
	if !json.Valid([]byte(*data)) {
		return fmt.Errorf("-data is not valid JSON")
	}

	store, err := openStore(*dbDriver, *dbURL)
	if err != nil {
		return err
	}
	defer store.Close()

	opts := eventstore.AppendOptions{Partition: *partition, StreamType: *eventType}
	if !*noConcurrencyCheck {
		v := eventstore.ExpectedVersion(*expectedVersion)
		opts.ExpectedVersion = &v
	}

	var metadataRaw json.RawMessage
	if *metadata != "" {
		if !json.Valid([]byte(*metadata)) {
			return fmt.Errorf("-metadata is not valid JSON")
		}
		metadataRaw = json.RawMessage(*metadata)
	}

	result, err := store.Append(context.Background(), *streamID, []eventstore.EventInput{
		{Type: *eventType, Data: json.RawMessage(*data), Metadata: metadataRaw},
	}, opts)
	if err != nil {
		return err
	}

	out, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(out))
	return nil
}

func runReadStream(args []string) error {
	fs := flag.NewFlagSet("read-stream", flag.ExitOnError)
	dbDriver := fs.String("db-driver", config.GetEnv("EVENTSTORE_DB_DRIVER", "sqlite"), "\"postgres\" or \"sqlite\"")
	dbURL := fs.String("db-url", config.GetEnv("EVENTSTORE_DB_URL", ""), "database connection string")
	partition := fs.String("partition", eventstore.DefaultPartition, "tenant partition")
	streamID := fs.String("stream-id", "", "stream to read")
	from := fs.Int64("from", 0, "minimum stream position (0 = unset)")
	to := fs.Int64("to", 0, "maximum stream position (0 = unset)")
	maxCount := fs.Int64("max-count", 0, "maximum events to return (0 = unset)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *streamID == "" {
		return fmt.Errorf("-stream-id is required")
	}

	store, err := openStore(*dbDriver, *dbURL)
	if err != nil {
		return err
	}
	defer store.Close()

	opts := eventstore.ReadOptions{Partition: *partition}
	if *from > 0 {
		opts.From = from
	}
	if *to > 0 {
		opts.To = to
	}
	if *maxCount > 0 {
		opts.MaxCount = maxCount
	}

	result, err := store.Read(context.Background(), *streamID, opts)
	if err != nil {
		return err
	}

	out, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(out))
	return nil
}
