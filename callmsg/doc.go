// Package callmsg holds the signalling envelope consumed by the call
// machines: call and member identities, request/response classes, the
// establish/release methods and the floor parameters carried in the SDP
// body of establish transactions.
package callmsg
