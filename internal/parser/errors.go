package parser

import "errors"

// ParseError is the closed set of failure modes §4.1 allows. Callers
// compare with errors.Is; a bounds failure, pool exhaustion, or hitting a
// default-reject arm terminates the parse immediately.
var (
	ErrDefaultReject        = errors.New("parser: default arm rejected packet")
	ErrOutOfMemory          = errors.New("parser: descriptor or header-value pool exhausted")
	ErrPacketTooShort       = errors.New("parser: packet too short for field")
	ErrParserTimeout        = errors.New("parser: exceeded maximum transition count")
	ErrParserInvalidArgument = errors.New("parser: invalid argument")
)
