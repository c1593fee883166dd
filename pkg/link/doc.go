// Package link tracks network reachability with a TCP or HTTP probe driven
// by the shared connection state machine. After the retry budget is spent
// the manager stays failed until Reset.
package link
