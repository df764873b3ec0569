// Package postgres implements invoice and customer storage on PostgreSQL.
//
// Writes and the invoice reads that feed billing runs use the primary.
// Listings and customer lookups may be served by read replicas, selected
// round-robin by ConnectionManager.
//
// Customer lookups can be cached with CustomerCache: an expiring in-process
// LRU backed by Redis. Customers are read-only to the billing engine, so the
// cache is only invalidated when data is seeded.
package postgres
