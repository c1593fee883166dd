// Package timesync keeps the daemon's notion of wall-clock time aligned with
// NTP. Servers are queried round-robin; failures back off without a retry
// limit. Callers check Synchronized and fall back to the local clock.
package timesync
