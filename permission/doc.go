// Package permission maps campus pages to bits, composes role masks and
// builds the per-user access snapshot carried in access tokens.
//
// # Mask sizes
//
// Registries are 64 or 128 bits wide. Bit positions are assigned by
// [Registry.Register] in registration order and are stable for the life of
// the process, so the same page list must be registered on every node.
//
// # Snapshots
//
// [Builder.Build] unions the masks of the user's roles with the allow and
// extra lists of the account, then clears the deny list. The result is
// cached through [Cache] with a TTL and dropped by [Builder.Invalidate].
package permission
