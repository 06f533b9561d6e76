// Copyright 2025-2026
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package filter translates PostgREST style query parameters into SQL for
// the list endpoints. Field names are quoted as identifiers and every value
// binds as a placeholder, so caller supplied filters can never splice into
// the statement text.
package filter

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgsql"
	"github.com/jackc/pgx/v4"
)

var (
	ErrEmptyFrom       = errors.New("'from' cannot be empty")
	ErrMalformedClause = errors.New("where clauses must take the form [OP].[value]")
	ErrUnknownOperator = errors.New("unrecognized operator")
)

// BuildQuery assembles a select over sanitized identifiers. fields are quoted
// through pgx; safeFields are trusted expressions appended to the select list
// verbatim. where maps column -> "op.value" clauses; clauses apply in column
// name order so the same filter always produces the same statement.
func BuildQuery(from string, fields []string, safeFields []string, where map[string]string, order string) (string, []interface{}, error) {
	if strings.Compare(from, "") == 0 {
		return "", nil, ErrEmptyFrom
	}

	stmt := &pgsql.SelectStatement{}
	for _, field := range fields {
		stmt.Select(pgx.Identifier{field}.Sanitize())
	}
	for _, field := range safeFields {
		stmt.Select(field)
	}

	stmt.From(pgx.Identifier{from}.Sanitize())

	columns := make([]string, 0, len(where))
	for column := range where {
		columns = append(columns, column)
	}
	sort.Strings(columns)

	for _, column := range columns {
		parts := strings.SplitN(where[column], ".", 2)
		if len(parts) != 2 {
			return "", nil, ErrMalformedClause
		}
		op, val := parts[0], parts[1]
		ident := pgx.Identifier{column}.Sanitize()
		switch op {
		case "eq":
			stmt.Where(fmt.Sprintf("%s = ?", ident), val)
		case "neq":
			stmt.Where(fmt.Sprintf("%s <> ?", ident), val)
		case "gt":
			stmt.Where(fmt.Sprintf("%s > ?", ident), val)
		case "gte":
			stmt.Where(fmt.Sprintf("%s >= ?", ident), val)
		case "lt":
			stmt.Where(fmt.Sprintf("%s < ?", ident), val)
		case "lte":
			stmt.Where(fmt.Sprintf("%s <= ?", ident), val)
		case "like":
			stmt.Where(fmt.Sprintf("%s like ?", ident), val)
		case "ilike":
			stmt.Where(fmt.Sprintf("%s ilike ?", ident), val)
		case "cs":
			stmt.Where(fmt.Sprintf("%s @> ?", ident), val)
		case "ov":
			stmt.Where(fmt.Sprintf("%s && ?", ident), val)
		default:
			return "", nil, ErrUnknownOperator
		}
	}

	if order != "" {
		stmt.Order(order)
	}

	sql, args := pgsql.Build(stmt)
	return sql, args, nil
}

// Clauses keeps only the query parameters naming a filterable column
func Clauses(params map[string]string, allowed ...string) map[string]string {
	out := make(map[string]string, len(allowed))
	for _, column := range allowed {
		if value, ok := params[column]; ok {
			out[column] = value
		}
	}
	return out
}
