package handler

import "errors"

var (
	// ErrDatabaseNotInitialized is returned when the database is not initialized
	ErrDatabaseNotInitialized = errors.New("database not initialized")
	// ErrCacheNotInitialized is returned when no Redis client was wired
	ErrCacheNotInitialized = errors.New("cache not initialized")
)
