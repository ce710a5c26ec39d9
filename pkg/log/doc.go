// Package log provides structured logging for the entity core using
// zerolog: a package-level Logger initialized via Init, and
// component/entity/orchestration child loggers layered on top of it.
package log
