// Package scraper polls sensor devices and turns their answers into
// types.SensorReading values for the shipper.
//
// Two device types are supported. json (json.go) GETs a JSON object and runs
// it through pkg/reading, so a device may use the same field aliases the
// server accepts. prometheus (prometheus.go) parses a text exposition and
// maps the water_* gauges onto a reading.
//
// A failed scrape is reported in Result.Err rather than as a returned error
// so the caller can log it and move on to the next device. Authentication is
// handled by the shared authRoundTripper in base.go.
package scraper
