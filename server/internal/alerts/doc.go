// Package alerts evaluates threshold rules against incoming sensor readings
// and computed health records, and fans firing and resolved alerts out to
// Slack, Teams, generic HTTP webhooks and Telegram.
package alerts
