// Package query implements entity discovery and cleanup (§4.6): a
// paged, filterable listing of entity metadata and a Clean() sweep that
// reclaims orphaned locks and empty, unlocked records. Neither adapter
// supports implicit deletion, so Service.Clean is the only path by
// which an emptied entity's record actually disappears from storage.
package query
