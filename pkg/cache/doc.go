// Package cache stores upstream API responses in an ordered list of tiers.
//
// A fast process-local tier sits in front of a durable bbolt tier. Reads walk
// the tiers in order and warm earlier tiers on a later-tier hit. Entries carry
// an absolute expiry and are never returned once it has passed.
package cache
