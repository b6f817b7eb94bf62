// Package logger builds a Cloud Logging backed standard logger for
// the batch tools, which run on GCP and should not log to stdout.
package logger

import (
	"context"
	"log"

	"cloud.google.com/go/compute/metadata"
	"cloud.google.com/go/logging"
)

// New creates a *log.Logger writing to the named Cloud Logging log of
// the ambient project. Falls back hard when the project cannot be
// resolved: the batch tools are useless without logging.
func New(ctx context.Context, name string) *log.Logger {
	projectID, err := metadata.ProjectIDWithContext(ctx)
	if err != nil {
		log.Fatalf("failed to get project ID: %v", err)
	}
	client, err := logging.NewClient(ctx, projectID)
	if err != nil {
		log.Fatalf("failed to create logging client: %v", err)
	}
	return client.Logger(name).StandardLogger(logging.Info)
}
