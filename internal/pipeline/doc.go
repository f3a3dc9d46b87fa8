// Package pipeline aggregates plugin targets and complications into the
// ordered page list a smartspace session renders.
//
// A merge pass runs in four stages:
//
//  1. Fetch: every registered instance is queried concurrently with a
//     per-provider timeout. Results are cached per instance until the
//     provider (or one of its requirement providers) notifies a change.
//     Failing providers contribute nothing.
//  2. Filter: per-instance surface settings, lockscreen sensitivity,
//     developer surface limits, dismissals, dedup and feature collisions.
//  3. Merge: complications fill free header and base slots of targets in
//     order; leftovers are paired into blank filler targets.
//  4. Remember: the owner of every emitted target is kept so dismissals can
//     be routed back to the provider that produced them.
//
// Target and complication ids are rewritten to "smartspacer_<package>_<id>"
// so two plugins cannot collide. StripUniqueness recovers the provider's id.
package pipeline
