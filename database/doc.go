// Package database provides connection management, configuration loading,
// unit-of-work sessions, driver error classification, logging, and query
// hooks built on top of Bun.
package database
