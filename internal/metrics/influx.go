// Package metrics provides InfluxDB time-series reporting for the miner:
// hashrate samples, found solutions, submission outcomes, and event
// subscription reconnects. The whole package is optional; a nil *Client is
// a valid no-op sink.
package metrics

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Config holds InfluxDB connection configuration
type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// Client wraps InfluxDB operations for miner metrics
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	miner    string
}

// NewClient creates a new InfluxDB client tagged with the miner address.
func NewClient(cfg *Config, minerAddress string) (*Client, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	health, err := client.Health(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check InfluxDB health: %w", err)
	}
	if health.Status != "pass" {
		msg := ""
		if health.Message != nil {
			msg = *health.Message
		}
		return nil, fmt.Errorf("InfluxDB health check failed: %s", msg)
	}

	return &Client{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
		miner:    minerAddress,
	}, nil
}

// Close flushes pending points and closes the connection. Safe on nil.
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.writeAPI.Flush()
	c.client.Close()
}

// WriteHashrate writes one hashrate sample for the current search cycle.
func (c *Client) WriteHashrate(hashrate float64, blockHeight uint64) {
	if c == nil {
		return
	}

	tags := map[string]string{
		"miner": c.miner,
	}
	fields := map[string]interface{}{
		"hashrate":     hashrate,
		"block_height": int64(blockHeight),
	}

	c.writeAPI.WritePoint(write.NewPoint("hashrate", tags, fields, time.Now()))
}

// WriteSolution writes a found-solution event.
func (c *Client) WriteSolution(nonce uint64, finalHash string) {
	if c == nil {
		return
	}

	tags := map[string]string{
		"miner": c.miner,
	}
	fields := map[string]interface{}{
		"nonce":      fmt.Sprintf("%d", nonce),
		"final_hash": finalHash,
		"count":      1,
	}

	c.writeAPI.WritePoint(write.NewPoint("solutions", tags, fields, time.Now()))
}

// WriteSubmission writes a submission outcome tagged by contract return
// code, or by "transport_error" when the submission never reached the
// contract.
func (c *Client) WriteSubmission(returnCode int64, transportError bool) {
	if c == nil {
		return
	}

	outcome := fmt.Sprintf("%d", returnCode)
	if transportError {
		outcome = "transport_error"
	}

	tags := map[string]string{
		"miner":   c.miner,
		"outcome": outcome,
	}
	fields := map[string]interface{}{
		"count": 1,
	}

	c.writeAPI.WritePoint(write.NewPoint("submissions", tags, fields, time.Now()))
}

// WriteReconnect writes an event subscription reconnect attempt.
func (c *Client) WriteReconnect(attempt uint64) {
	if c == nil {
		return
	}

	tags := map[string]string{
		"miner": c.miner,
	}
	fields := map[string]interface{}{
		"attempt": int64(attempt),
		"count":   1,
	}

	c.writeAPI.WritePoint(write.NewPoint("ws_reconnects", tags, fields, time.Now()))
}

// Flush forces a write of all pending points. Safe on nil.
func (c *Client) Flush() {
	if c == nil {
		return
	}
	c.writeAPI.Flush()
}
