// Package rinflux records ranging measurements in InfluxDB.
//
// Each peer table update becomes one ranging_data point,
// tagged with the local and remote discovery tokens.
// Removals are not recorded.
package rinflux

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gordian-engine/radar/rpubsub"
	"github.com/gordian-engine/radar/rtable"
	"github.com/gordian-engine/radar/rtoken"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

const Measurement = "ranging_data"

type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// Connection owns an InfluxDB client and its asynchronous write API.
type Connection struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
}

// Connect creates a client and checks server health.
func Connect(ctx context.Context, cfg Config) (*Connection, error) {
	if cfg.URL == "" || cfg.Org == "" || cfg.Bucket == "" {
		return nil, errors.New("rinflux: URL, Org, and Bucket are required")
	}

	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	health, err := client.Health(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("InfluxDB health check failed: %w", err)
	}
	if health.Status != "pass" {
		client.Close()
		return nil, fmt.Errorf("InfluxDB health check failed: %s", health.Status)
	}

	return &Connection{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
	}, nil
}

func (c *Connection) WriteAPI() api.WriteAPI {
	return c.writeAPI
}

// Close flushes pending points and closes the client.
func (c *Connection) Close() {
	c.writeAPI.Flush()
	c.client.Close()
}

// Writer turns peer table changes into points.
type Writer struct {
	log      *slog.Logger
	writeAPI api.WriteAPI

	// Source reports the local token, used as the source_token tag.
	source func() (rtoken.Token, bool)
}

// NewWriter returns a Writer.
// Typically source is the ranging engine's LocalToken method.
func NewWriter(log *slog.Logger, w api.WriteAPI, source func() (rtoken.Token, bool)) *Writer {
	return &Writer{log: log, writeAPI: w, source: source}
}

// Run writes every entry of snap,
// then every update from s onward, until ctx is canceled.
// Asynchronous write errors are logged.
func (w *Writer) Run(ctx context.Context, snap rtable.Snapshot, s *rpubsub.Stream[rtable.Change]) {
	errCh := w.writeAPI.Errors()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case err, ok := <-errCh:
				if !ok {
					return
				}
				w.log.Info("InfluxDB write failed", "err", err)
			}
		}
	}()

	for _, p := range snap {
		w.Write(rtable.Change{Peer: p})
	}
	s.Each(ctx, func(c rtable.Change) bool {
		w.Write(c)
		return true
	})

	w.writeAPI.Flush()
}

// Write queues a point for c.
// Removals and changes observed before the local token is known are skipped.
func (w *Writer) Write(c rtable.Change) {
	if c.Removed {
		return
	}
	src, ok := w.source()
	if !ok {
		w.log.Debug("Skipping ranging point without local token", "token", c.Peer.Token)
		return
	}
	w.writeAPI.WritePoint(newPoint(src, c.Peer))
}

func newPoint(src rtoken.Token, p rtable.Peer) *write.Point {
	tags := map[string]string{
		"source_token":      src.Hex(),
		"destination_token": p.Token.Hex(),
	}
	fields := map[string]any{
		"distance": p.Distance,
	}
	if d := p.Direction; d != nil {
		fields["dir_x"] = d.X
		fields["dir_y"] = d.Y
		fields["dir_z"] = d.Z
	}

	ts := p.UpdatedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	return influxdb2.NewPoint(Measurement, tags, fields, ts)
}
