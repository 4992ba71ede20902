// Package metrics records settlement telemetry as InfluxDB points.
package metrics

import (
	"context"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"go.uber.org/zap"

	"github.com/arko05roy/TVA-Protocol-sub002/shared/types"
)

// Emitter writes settlement metrics. A nil Emitter is a no-op, so callers
// never have to branch on whether metrics are configured.
type Emitter struct {
	client influxdb2.Client
	write  api.WriteAPIBlocking
	log    *zap.Logger
}

// NewEmitter connects an Influx metrics emitter.
func NewEmitter(url, token, org, bucket string, log *zap.Logger) *Emitter {
	if log == nil {
		log = zap.NewNop()
	}
	client := influxdb2.NewClient(url, token)
	return &Emitter{
		client: client,
		write:  client.WriteAPIBlocking(org, bucket),
		log:    log,
	}
}

// RecordSettlement writes one point per settlement attempt.
func (e *Emitter) RecordSettlement(ctx context.Context, event types.CommitmentEvent, result *types.SettlementResult, batches int, duration time.Duration) {
	if e == nil {
		return
	}

	point := influxdb2.NewPoint(
		"settlement_attempt",
		map[string]string{
			"subnet_id": event.SubnetID,
			"status":    string(result.Status),
		},
		map[string]interface{}{
			"block_number": int64(event.BlockNumber),
			"batches":      batches,
			"tx_count":     len(result.TxHashes),
			"duration_ms":  duration.Milliseconds(),
		},
		time.Now().UTC(),
	)

	if err := e.write.WritePoint(ctx, point); err != nil {
		e.log.Warn("failed to write settlement metric", zap.Error(err))
	}
}

// Close releases the underlying client.
func (e *Emitter) Close() {
	if e == nil {
		return
	}
	e.client.Close()
}
