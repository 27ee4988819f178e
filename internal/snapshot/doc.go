// Package snapshot holds the per-tenant testimonials snapshot: how its storage
// keys are derived, how change fingerprints and freshness are computed, and
// how the four storage slots are read and written through a store.Store.
//
// The testimonial records themselves are opaque to this package. It only
// requires the cached payload to be a JSON array; individual field shapes are
// resolved by the renderer.
package snapshot
