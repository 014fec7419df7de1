// Package store holds the latest published count per CRM collection and fans
// updates out to subscribers.
//
// The main components are:
//
//   - [Broker]: generic non-blocking publish/subscribe hub
//   - [Store]: interface for storing and subscribing to count records
//   - [MemoryStore]: in-memory implementation of Store
//   - [CountRecord]: JSON representation of a collection's badge count
//
// Subscribers receive updates via buffered channels with non-blocking sends;
// slow subscribers miss updates rather than block the publisher.
package store
