// Package pgstore provides PostgreSQL implementations of the account,
// session and audit stores, using database/sql over the pgx stdlib driver.
//
// Call Migrate once at startup to create the tables.
package pgstore
