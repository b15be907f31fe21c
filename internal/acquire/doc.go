// Package acquire drives continuous realtime polling of the ECU.
//
// A fixed-delay timer re-arms after every completed cycle, and a watchdog
// forces a cycle whenever none has completed within its interval. Fetch
// failures are logged and skipped; they never stop acquisition.
package acquire
