// Package shipper delivers sensor readings to bluesentinel-server by POSTing
// them as JSON to /api/v1/readings.
//
// Shipper.Ship is non-blocking: readings go into a bounded channel (default
// capacity 1000) and the oldest is evicted when it is full, so the newest
// water data always survives an outage.
//
// Shipper.Run drains the channel one reading at a time. Network errors and
// 5xx, 408 or 429 responses are retried with truncated exponential backoff
// (1s to 60s, ±25% jitter) before the next reading is taken. Other 4xx
// responses mean the server will never accept the reading, so it is logged
// and discarded.
package shipper
