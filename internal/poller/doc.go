// Package poller provides the request layer and scheduling for leadpulse.
//
// The main components are:
//
//   - [Client]: HTTP client that queries a CRM collection for its total
//     record count, with a fixed-delay retry policy and failure classification
//   - [Scheduler]: runs a refresh task immediately and then on a fixed interval
//     until stopped
//   - [DecodeEnvelope]: decoder for {success, pagination: {total}, message}
//
// Users of the leadpulse library should not need to interact with this
// package directly. Configuration is done through the leadpulse package.
package poller
