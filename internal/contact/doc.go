// Package contact resolves inbound sender identities to Contact records.
//
// A contact is keyed by (external ID, platform). Resolve creates the contact
// on first sight; later events only overwrite display name, phone and email
// when they carry a non-empty, different value, and merge metadata with the
// incoming keys winning. Concurrent first-contact deliveries are reconciled
// through the store's unique identity index: the loser refetches the
// winner's row.
package contact
