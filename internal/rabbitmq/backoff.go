package rabbitmq

import "time"

// reconnectDelays is the wait before each connection attempt (0-indexed).
// Attempts past the end of the table reuse the last delay.
var reconnectDelays = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	4 * time.Second,
	8 * time.Second,
	16 * time.Second,
	30 * time.Second,
}

// ReconnectDelay returns how long to wait after the given failed attempt
// (1-indexed)
func ReconnectDelay(attempt int) time.Duration {
	index := attempt - 1
	if index < 0 {
		index = 0
	}
	if index >= len(reconnectDelays) {
		index = len(reconnectDelays) - 1
	}
	return reconnectDelays[index]
}
