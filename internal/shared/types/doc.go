// Package types provides the smartspace domain model shared by the host and
// the bridge.
//
// Core Types:
//   - Target: one card, built fresh on every aggregation pass
//   - Action: header/base action or a complication
//   - Surface, SessionKind: where a session renders and which track owns it
//   - SessionConfig, SessionEvent: what the OS hands over for a session
//   - InstanceConfig: per-instance user settings
//
// Targets are immutable once built; anything that needs to adjust one works
// on Target.Clone().
package types
