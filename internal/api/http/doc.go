/*
Package http serves the diagnostics and control API of the host.

Routes:

	GET   /health                 component status
	GET   /sessions               session dump, debug builds only
	POST  /sessions               open a session for the OS
	DEL   /sessions/:id           close a session
	POST  /sessions/:id/events    forward a UI event to a session
	GET   /targets/:surface       merged targets for home, lock, media or hub
	POST  /targets/:id/dismiss    dismiss a rendered target
	GET   /grants                 plugin permissions
	PATCH /instances/:id/config   edit the settings of an instance
	POST  /instances              add an instance of a builtin provider
	DEL   /instances/:id          remove a builtin instance
	PUT   /calendar/events        feed the calendar target
	POST  /backup, /restore       instance backups
	POST  /notifications          replace the active notification list

Handlers respond with JSON. Errors carry an "error" field and, for write
operations, "success": false.
*/
package http
