// Package source reads changed records from the mentor-dashboard record
// store.
package source

import (
	"context"
	"time"

	"github.com/brightpath-labs/mentorsync/pkg/core"
)

// Config holds the record-store connection settings.
type Config struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	Options  map[string]string
}

// Querier is the change-query contract the orchestrator consumes: all
// records changed strictly after a watermark, in change-timestamp order.
type Querier interface {
	ChangedSince(ctx context.Context, table string, since time.Time) ([]core.ChangeRecord, error)
}
