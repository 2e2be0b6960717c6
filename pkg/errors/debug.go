package errors

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// DriverDetail is the Postgres diagnostic carried by a pgx or lib/pq error.
type DriverDetail struct {
	Code       string `json:"pg_code"`
	Constraint string `json:"pg_constraint,omitempty"`
	Table      string `json:"pg_table,omitempty"`
	Column     string `json:"pg_column,omitempty"`
	Detail     string `json:"pg_detail,omitempty"`
	Message    string `json:"pg_message,omitempty"`
}

// ErrorDump is a loggable view of an error chain.
type ErrorDump struct {
	Message    string        `json:"error"`
	Code       Code          `json:"error_code,omitempty"`
	HTTPStatus int           `json:"http_status,omitempty"`
	Retryable  bool          `json:"retryable,omitempty"`
	Chain      []string      `json:"error_chain,omitempty"`
	Driver     *DriverDetail `json:"driver,omitempty"`
}

func Dump(err error) ErrorDump {
	if err == nil {
		return ErrorDump{}
	}
	d := ErrorDump{Message: err.Error(), Chain: chain(err), Driver: driverDetail(err)}
	if te := As(err); te != nil {
		meta := MetadataFor(te.Code())
		d.Code, d.HTTPStatus, d.Retryable = te.Code(), meta.HTTPStatus, meta.Retryable
	}
	return d
}

// Fields flattens the dump for Logger.WithFields.
func (d ErrorDump) Fields() map[string]any {
	fields := map[string]any{"error": d.Message}
	if d.Code != "" {
		fields["error_code"] = d.Code
	}
	if len(d.Chain) > 1 {
		fields["error_chain"] = d.Chain
	}
	if d.Driver != nil {
		fields["pg_code"] = d.Driver.Code
		fields["pg_constraint"] = d.Driver.Constraint
		fields["pg_table"] = d.Driver.Table
		fields["pg_detail"] = d.Driver.Detail
	}
	return fields
}

func chain(err error) []string {
	var links []string
	seen := map[string]bool{}
	for e := err; e != nil; e = errors.Unwrap(e) {
		link := fmt.Sprintf("%T: %v", e, e)
		if !seen[link] {
			seen[link] = true
			links = append(links, link)
		}
	}
	return links
}

func driverDetail(err error) *DriverDetail {
	var pgxErr *pgconn.PgError
	if errors.As(err, &pgxErr) {
		return &DriverDetail{
			Code:       pgxErr.Code,
			Constraint: pgxErr.ConstraintName,
			Table:      pgxErr.TableName,
			Column:     pgxErr.ColumnName,
			Detail:     pgxErr.Detail,
			Message:    pgxErr.Message,
		}
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return &DriverDetail{
			Code:       string(pqErr.Code),
			Constraint: pqErr.Constraint,
			Table:      pqErr.Table,
			Column:     pqErr.Column,
			Detail:     pqErr.Detail,
			Message:    pqErr.Message,
		}
	}
	return nil
}
