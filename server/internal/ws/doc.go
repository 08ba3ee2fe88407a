// Package ws implements the WebSocket push stream mounted at /ws/stream.
//
// New(snapshot, interval) creates a Hub. On connect a client receives a
// "snapshot" event carrying the full dashboard state (latest reading, current
// health record, chart series). Publish pushes "reading" and "health" events
// as they happen, and Run resends the snapshot every interval so clients
// that missed an event converge.
//
// Message format sent to clients:
//
//	{
//	  "event": "snapshot" | "reading" | "health",
//	  "data":  { ... }
//	}
package ws
