// Package stores provides the SQLite persistence layer for xbzone.
// It stores the zoning topology, backend export masks with optimistic
// versioning, step records, the event log and the step lock table that
// lets several processes share one database.
package stores
