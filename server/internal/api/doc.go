// Package api implements the BlueSentinel HTTP surface.
//
// Server ties the sensor store, chart series, push stream, alert engine and
// metrics registry together around two flows:
//
//   - Ingest: normalise a posted reading, require temperature and pH, store
//     it as latest and in history, then fan it out.
//   - ComputeHealth: read the latest reading, score it with the health
//     engine and overwrite the current health record. The three steps run
//     under one mutex.
//
// Routes() mounts both flows plus the read-only endpoints on a chi router
// with CORS applied. Errors are returned as {"error": "..."}; storage
// details are logged, never sent to clients.
package api
