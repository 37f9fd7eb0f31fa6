package constants

import "time"

// Test Constants
//
// IMPORTANT: These constants are for testing only. DO NOT use in production code.

// Transport Test Constants
const (
	// TestDeliveryWait is the upper bound tests wait for a packet to make it
	// through a loopback transport pair
	TestDeliveryWait = 2 * time.Second

	// TestConcurrentClientsSmall is the number of concurrent clients for small load tests
	TestConcurrentClientsSmall = 10
)
