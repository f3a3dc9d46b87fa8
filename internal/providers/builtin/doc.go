// Package builtin holds the target providers that ship with the host.
//
// They use the same provider contract as third-party plugins and are served
// over in-process endpoints:
//   - BlankTarget: an empty card, optionally carrying complications
//   - CalendarTarget: upcoming events, titled "in N min" during the hour before they start
//   - NotificationTarget: mirrored notifications of one app
//
// Per-instance settings are stored as JSON through a DataStore.
package builtin
