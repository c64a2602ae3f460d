// Command docmap-changes is a Lambda consuming the document table's
// DynamoDB stream and logging domain changes.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/cocodrino/couch-ar/internal/cmd/changes"
)

func main() {
	cfg, err := changes.ParseConfig()
	if err != nil {
		log.Fatalf("parse config: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	h, err := changes.NewHandler(context.Background(), cfg, logger)
	if err != nil {
		log.Fatalf("init handler: %v", err)
	}
	lambda.Start(h.HandleChanges)
}
