// Package state provides a typed, concurrency-safe value holder with change
// subscriptions. Components keep their authoritative in-memory state in a
// Container and persist a declared subset from a subscriber.
package state
