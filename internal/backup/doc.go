// Package backup collects per-instance provider backups into a single
// compressed archive and hands them back to the providers on restore.
package backup
