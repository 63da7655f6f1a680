// Package state persists the fan-out engine's keyed JSON blobs.
//
// Each state kind (delivery, dedupe, incidents, ...) is one logical
// record; mutations are full load -> mutate -> save round-trips, so the
// unit of atomicity is the whole blob per kind. Kinds are independent:
// racing writers on different kinds never block each other, racing
// writers on the same kind are last-writer-wins.
package state
