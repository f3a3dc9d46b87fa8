/*
Package store persists host state in a sqlite database.

Tables:
  - grants: what each plugin package may do (widgets, notifications, smartspace)
  - instances: added targets and complications with their settings
  - dismissals: targets dismissed per provider instance
  - target_data: settings of the builtin providers

The schema is versioned through schema_migrations and upgraded on Open.
*/
package store
