// Package callmachine implements the signalling state machines of an
// MCPTT prearranged group call.
//
// A ClientMachine runs on every member for every call it takes part in; a
// ServerMachine runs on the controlling server, fans each transaction out
// to the rest of the roster and resolves it once every member answered.
// Both machines move through the same four states (idle, initiating,
// active, releasing) and drive the floor.Hooks of their side in lock-step.
//
// Machines are not safe for concurrent use. The host feeds them one event
// at a time, usually through a Registry that demultiplexes messages and
// timer fires by CallID.
package callmachine
