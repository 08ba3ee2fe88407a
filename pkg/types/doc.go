// Package types defines the Go types shared by the agent and the server:
// the sensor reading produced by a device and the health record computed
// from it. JSON field names match the dashboard's data contract.
package types
