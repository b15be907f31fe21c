// Package decoder compiles MegaTune-style channel definitions into binary
// extractors and datalog column formatters.
//
// Ownership boundary:
// - OutputChannels grammar (scalar, bits, alias, constant)
// - Datalog entry grammar
// - INI loading of those two sections
//
// Compiled Tables are immutable and safe to share between goroutines.
package decoder
