// Package series keeps the bounded rolling window of points that feeds the
// dashboard charts.
package series

import (
	"sync"

	"github.com/bluesentinel/bluesentinel/pkg/types"
)

// DefaultCapacity matches the dashboard's visible chart window.
const DefaultCapacity = 30

// Point is one chart sample. Missing measurements stay nil and encode as null.
type Point struct {
	Timestamp       int64    `json:"timestamp"`
	Temperature     *float64 `json:"temperature"`
	PH              *float64 `json:"ph"`
	Turbidity       *float64 `json:"turbidity"`
	DissolvedOxygen *float64 `json:"dissolvedOxygen"`
	Salinity        *float64 `json:"salinity"`
}

// FromReading copies the chartable values out of r.
func FromReading(r types.SensorReading) Point {
	return Point{
		Timestamp:       r.Timestamp,
		Temperature:     r.Temperature,
		PH:              r.PH,
		Turbidity:       r.Turbidity,
		DissolvedOxygen: r.DissolvedOxygen,
		Salinity:        r.Salinity,
	}
}

// Buffer is a fixed-capacity ring of Points, oldest first.
type Buffer struct {
	mu     sync.RWMutex
	points []Point
	max    int
}

// New creates a Buffer. capacity <= 0 selects DefaultCapacity.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{points: make([]Point, 0, capacity), max: capacity}
}

// Push appends p, evicting the oldest point when full. A point with the same
// timestamp as the newest stored point is dropped; Push reports whether p
// was stored.
func (b *Buffer) Push(p Point) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if n := len(b.points); n > 0 && b.points[n-1].Timestamp == p.Timestamp {
		return false
	}
	if len(b.points) >= b.max {
		copy(b.points, b.points[1:])
		b.points[len(b.points)-1] = p
	} else {
		b.points = append(b.points, p)
	}
	return true
}

// Points returns a copy of the stored points, oldest first.
func (b *Buffer) Points() []Point {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Point, len(b.points))
	copy(out, b.points)
	return out
}

// Len returns the number of stored points.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.points)
}

// Capacity returns the maximum number of points held.
func (b *Buffer) Capacity() int { return b.max }
