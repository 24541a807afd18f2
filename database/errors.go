/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

type SQLError int

const (
	UnknownErr SQLError = iota
	NoRowsErr
	NoColumnErr
	NoTableErr
	DuplicateKeyErr
	NotNullViolationErr
	ForeignKeyViolationErr
	CheckConstraintViolationErr
	DataTruncatedErr
	ConflictErr
	ConnectionErr
)

func (e SQLError) String() string {
	switch e {
	case NoRowsErr:
		return "no rows"
	case NoColumnErr:
		return "no column"
	case NoTableErr:
		return "no table"
	case DuplicateKeyErr:
		return "duplicate key"
	case NotNullViolationErr:
		return "not null violation"
	case ForeignKeyViolationErr:
		return "foreign key violation"
	case CheckConstraintViolationErr:
		return "check constraint violation"
	case DataTruncatedErr:
		return "data truncated"
	case ConflictErr:
		return "concurrency conflict"
	case ConnectionErr:
		return "connection failure"
	default:
		return "unknown"
	}
}

var (
	// ErrConcurrencyConflict matches every ConflictError via errors.Is.
	ErrConcurrencyConflict = errors.New("database: concurrency conflict")
	ErrSessionReleased     = errors.New("database: session released")
	ErrNotConnected        = errors.New("database: not connected")
)

// ConflictError reports a lost update or serialization failure detected by
// the store. The driver error is kept as the cause.
type ConflictError struct {
	Op  string
	Err error
}

func (e *ConflictError) Error() string {
	if e.Op == "" {
		return "concurrency conflict: " + e.Err.Error()
	}
	return e.Op + ": concurrency conflict: " + e.Err.Error()
}

func (e *ConflictError) Unwrap() error { return e.Err }

func (e *ConflictError) Is(target error) bool { return target == ErrConcurrencyConflict }

// WrapConflict returns err as a *ConflictError when the store classified it
// as a conflict, and err unchanged otherwise.
func WrapConflict(op string, err error) error {
	if err == nil {
		return nil
	}
	var ce *ConflictError
	if errors.As(err, &ce) {
		return err
	}
	if Classify(err) == ConflictErr {
		return &ConflictError{Op: op, Err: err}
	}
	return err
}

// IsConnectivityError reports whether err is a transport or session failure.
func IsConnectivityError(err error) bool {
	return err != nil && Classify(err) == ConnectionErr
}

// IsSqlError reports whether err came from the store and which kind it is.
func IsSqlError(err error) (bool, SQLError) {
	if err == nil {
		return false, UnknownErr
	}
	kind := Classify(err)
	return kind != UnknownErr, kind
}

// Classify maps driver errors from MySQL, PostgreSQL (lib/pq and pgx) and
// SQLite to an SQLError kind.
func Classify(err error) SQLError {
	if err == nil {
		return UnknownErr
	}
	if errors.Is(err, sql.ErrNoRows) {
		return NoRowsErr
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) || errors.Is(err, mysql.ErrInvalidConn) {
		return ConnectionErr
	}

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return classifyMySQL(mysqlErr.Number)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return classifySQLState(string(pqErr.Code))
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return classifySQLState(pgErr.Code)
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return ConnectionErr
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ConnectionErr
	}
	return classifyMessage(strings.ToLower(err.Error()))
}

func classifyMySQL(number uint16) SQLError {
	switch number {
	case 1054:
		return NoColumnErr
	case 1146:
		return NoTableErr
	case 1062:
		return DuplicateKeyErr
	case 1048:
		return NotNullViolationErr
	case 1216, 1217, 1451, 1452:
		return ForeignKeyViolationErr
	case 3819:
		return CheckConstraintViolationErr
	case 1265, 1406:
		return DataTruncatedErr
	case 1205, 1213:
		return ConflictErr
	case 1040, 1053, 2002, 2003, 2006, 2013:
		return ConnectionErr
	default:
		return UnknownErr
	}
}

func classifySQLState(code string) SQLError {
	switch {
	case code == "42703":
		return NoColumnErr
	case code == "42P01":
		return NoTableErr
	case code == "23505":
		return DuplicateKeyErr
	case code == "23502":
		return NotNullViolationErr
	case code == "23503":
		return ForeignKeyViolationErr
	case code == "23514":
		return CheckConstraintViolationErr
	case code == "22001":
		return DataTruncatedErr
	case code == "40001", code == "40P01":
		return ConflictErr
	case strings.HasPrefix(code, "08"), code == "57P01", code == "57P03":
		return ConnectionErr
	default:
		return UnknownErr
	}
}

func classifyMessage(s string) SQLError {
	switch {
	case strings.Contains(s, "database is locked"),
		strings.Contains(s, "sqlite_busy"),
		strings.Contains(s, "could not serialize access"),
		strings.Contains(s, "deadlock"):
		return ConflictErr
	case strings.Contains(s, "no such column"), strings.Contains(s, "undefined column"):
		return NoColumnErr
	case strings.Contains(s, "no such table"), strings.Contains(s, "undefined table"):
		return NoTableErr
	case strings.Contains(s, "unique constraint failed"), strings.Contains(s, "duplicate key value"):
		return DuplicateKeyErr
	case strings.Contains(s, "not null constraint failed"), strings.Contains(s, "not-null constraint"):
		return NotNullViolationErr
	case strings.Contains(s, "foreign key constraint failed"), strings.Contains(s, "foreign key violation"):
		return ForeignKeyViolationErr
	case strings.Contains(s, "check constraint"):
		return CheckConstraintViolationErr
	case strings.Contains(s, "connection refused"),
		strings.Contains(s, "broken pipe"),
		strings.Contains(s, "connection reset"),
		strings.Contains(s, "sql: database is closed"):
		return ConnectionErr
	default:
		return UnknownErr
	}
}
