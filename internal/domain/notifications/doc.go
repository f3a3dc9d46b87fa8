// Package notifications forwards the active notification list to the target
// and complication instances whose provider registered a notification
// listener. Plugins only see notifications once their package holds the
// notification grant; the host's own providers always do.
package notifications
