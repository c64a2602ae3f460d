// Command docmap bootstraps a document database and generates typed finders.
//
//	docmap init [flags]   create or maintain the database and sync views
//	docmap gen [flags]    write finder wrappers for the definitions under -root
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cocodrino/couch-ar/internal/cmd/docmap"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, docmap.ErrUsage)
		os.Exit(2)
	}
	command := os.Args[1]

	fs := flag.NewFlagSet("docmap "+command, flag.ExitOnError)
	cfg, err := docmap.ParseConfig(fs, os.Args[2:])
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	if err := docmap.Run(ctx, command, cfg, os.Stdout, logger); err != nil {
		if errors.Is(err, docmap.ErrUsage) {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		log.Fatalf("docmap %s: %v", command, err)
	}
}
