// Package influx records audit activity as InfluxDB points for dashboards
// and alerting. Only counters and identifiers are written, never values.
package influx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/splax/confvault/internal/domain"
	"github.com/splax/confvault/pkg/config"
	"github.com/splax/confvault/pkg/logger"
)

const (
	measurement   = "confvault_audit"
	pingTimeout   = 5 * time.Second
	batchSize     = 100
	flushInterval = 1000 // milliseconds
)

// ErrUnhealthy is returned when the server answers the ping as not ready.
var ErrUnhealthy = errors.New("influx: server not healthy")

// pointWriter is the subset of api.WriteAPI used by the sink.
type pointWriter interface {
	WritePoint(point *write.Point)
	Flush()
}

// Sink writes one point per committed audit entry.
type Sink struct {
	client influxdb2.Client
	writer pointWriter
	log    *slog.Logger
}

// Connect creates a batching client and verifies the server is reachable.
func Connect(ctx context.Context, cfg config.InfluxSinkConfig, log *slog.Logger) (*Sink, error) {
	if log == nil {
		log = logger.Discard()
	}
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(batchSize).
			SetFlushInterval(flushInterval))

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	healthy, err := client.Ping(pingCtx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("influx: ping failed: %w", err)
	}
	if !healthy {
		client.Close()
		return nil, ErrUnhealthy
	}

	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)
	go func() {
		for err := range writeAPI.Errors() {
			log.Warn("audit point write failed", "error", err)
		}
	}()
	return &Sink{client: client, writer: writeAPI, log: log}, nil
}

// Point converts an audit entry into its InfluxDB representation.
func Point(entry *domain.AuditLog) *write.Point {
	return write.NewPoint(
		measurement,
		map[string]string{
			"action":      entry.Action,
			"entity_type": entry.EntityType,
			"user":        entry.UserName,
		},
		map[string]interface{}{
			"count":     int64(1),
			"seq":       entry.Seq,
			"entity_id": entry.EntityID,
		},
		entry.Timestamp,
	)
}

// Deliver queues a point; the payload is ignored.
func (s *Sink) Deliver(entry *domain.AuditLog, _ []byte) {
	s.writer.WritePoint(Point(entry))
}

// Close flushes pending points and releases the client.
func (s *Sink) Close() {
	s.writer.Flush()
	if s.client != nil {
		s.client.Close()
	}
}
