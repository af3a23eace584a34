package remote

import (
	"context"
	"fmt"

	"github.com/InfluxCommunity/influxdb3-go/v2/influxdb3"
)

// InfluxConfig selects an InfluxDB v3 database.
type InfluxConfig struct {
	Host     string
	Token    string
	Database string
}

const influxMeasurement = "can_frames"

// InfluxSink writes one point per frame.
type InfluxSink struct {
	client *influxdb3.Client
}

func NewInfluxSink(cfg InfluxConfig) (*InfluxSink, error) {
	client, err := influxdb3.New(influxdb3.ClientConfig{
		Host:     cfg.Host,
		Token:    cfg.Token,
		Database: cfg.Database,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: influxdb client: %v", ErrEndpoint, err)
	}
	return &InfluxSink{client: client}, nil
}

func (s *InfluxSink) Deliver(ctx context.Context, b Batch) error {
	points := influxPoints(b)
	if len(points) == 0 {
		return nil
	}
	if err := s.client.WritePoints(ctx, points); err != nil {
		return fmt.Errorf("%w: influxdb write: %v", ErrEndpoint, err)
	}
	return nil
}

func influxPoints(b Batch) []*influxdb3.Point {
	ts := b.Timestamps()
	points := make([]*influxdb3.Point, 0, len(b.Frames))
	for i, f := range b.Frames {
		points = append(points, influxdb3.NewPoint(
			influxMeasurement,
			map[string]string{
				"can_id":   fmt.Sprintf("%X", f.ID),
				"extended": fmt.Sprintf("%t", f.Extended()),
			},
			map[string]any{
				"dlc":         int64(f.Len),
				"data":        fmt.Sprintf("%X", f.Payload()),
				"interval_us": f.Interval.Microseconds(),
			},
			ts[i],
		))
	}
	return points
}

func (s *InfluxSink) Close() error { return s.client.Close() }
