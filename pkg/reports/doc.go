// Package reports contains billing.Reporter implementations that record
// the outcome of billing runs: a log summary, JSON files on local disk and
// JSON objects in an S3 compatible bucket.
package reports
