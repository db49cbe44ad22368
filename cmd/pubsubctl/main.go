// Command pubsubctl inspects a client's on-disk history cache and, given the
// right flags, drives a one-off getHistory call against a live gateway.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"erebus/pubsub"
	"erebus/pubsub/tools/historycatalog"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "catalog":
		runCatalog(os.Args[2:])
	case "history":
		runHistory(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: pubsubctl <catalog|history> [flags]")
}

func runCatalog(args []string) {
	fs := flag.NewFlagSet("catalog", flag.ExitOnError)
	dir := fs.String("dir", "", "history cache directory to inspect")
	jsonFlag := fs.Bool("json", false, "emit JSON instead of human-readable output")
	fs.Parse(args)

	if *dir == "" {
		fmt.Fprintln(os.Stderr, "catalog: -dir is required")
		os.Exit(1)
	}

	entries, err := historycatalog.List(*dir)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if *jsonFlag {
		payload, err := historycatalog.MarshalEntries(entries)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(string(payload))
		return
	}

	for _, entry := range entries {
		fmt.Printf("%s (%d items, modified %s)\n", entry.Path, entry.ItemCount, entry.ModTimeRFC)
		if entry.NextCursor != nil {
			fmt.Printf("  next cursor: %s\n", *entry.NextCursor)
		}
	}
}

func runHistory(args []string) {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	wsURL := fs.String("ws-url", "", "gateway websocket URL")
	authURL := fs.String("auth-url", "", "grant/history HTTP base URL")
	channel := fs.String("channel", "", "channel to join before requesting history")
	topic := fs.String("topic", "", "topic to fetch history for")
	cursor := fs.String("cursor", "", "pagination cursor")
	limit := fs.Int("limit", 0, "page size limit")
	direction := fs.String("direction", "", "forward or backward")
	token := fs.String("token", "", "bearer token used to authenticate to auth-url")
	fs.Parse(args)

	if *wsURL == "" || *authURL == "" || *channel == "" || *topic == "" {
		fmt.Fprintln(os.Stderr, "history: -ws-url, -auth-url, -channel and -topic are required")
		os.Exit(1)
	}

	client, err := pubsub.New(pubsub.Config{
		WSUrl:       *wsURL,
		AuthBaseURL: *authURL,
		TokenProvider: func(context.Context) (string, error) {
			return *token, nil
		},
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := client.JoinChannel(*channel); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	page, err := client.GetHistory(ctx, *topic, pubsub.HistoryOptions{
		Cursor:    *cursor,
		Limit:     *limit,
		Direction: pubsub.HistoryDirection(*direction),
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	payload, err := json.MarshalIndent(page, "", "  ")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(string(payload))
}
