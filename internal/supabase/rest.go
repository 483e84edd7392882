package supabase

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"gearhead-backend/internal/apperr"
)

// Query is a PostgREST request against one table.
type Query struct {
	c      *Client
	table  string
	params url.Values
	single bool
}

func (c *Client) From(table string) *Query {
	return &Query{c: c, table: table, params: url.Values{}}
}

func (q *Query) Select(columns string) *Query {
	q.params.Set("select", columns)
	return q
}

func (q *Query) filter(column, op, value string) *Query {
	q.params.Add(column, op+"."+value)
	return q
}

func (q *Query) Eq(column, value string) *Query  { return q.filter(column, "eq", value) }
func (q *Query) Neq(column, value string) *Query { return q.filter(column, "neq", value) }

// IsNull filters rows where column is null.
func (q *Query) IsNull(column string) *Query { return q.filter(column, "is", "null") }

func (q *Query) In(column string, values []string) *Query {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = quoteValue(v)
	}
	return q.filter(column, "in", "("+strings.Join(quoted, ",")+")")
}

// Contains filters array columns containing every value.
func (q *Query) Contains(column string, values []string) *Query {
	return q.filter(column, "cs", arrayLiteral(values))
}

// ContainedBy filters array columns whose elements are all in values.
func (q *Query) ContainedBy(column string, values []string) *Query {
	return q.filter(column, "cd", arrayLiteral(values))
}

func (q *Query) Order(column string, ascending bool) *Query {
	dir := "desc"
	if ascending {
		dir = "asc"
	}
	term := column + "." + dir
	if existing := q.params.Get("order"); existing != "" {
		term = existing + "," + term
	}
	q.params.Set("order", term)
	return q
}

func (q *Query) Limit(n int) *Query {
	q.params.Set("limit", strconv.Itoa(n))
	return q
}

// Single makes the request fail with NotFound unless exactly one row matches.
func (q *Query) Single() *Query {
	q.single = true
	return q
}

func (q *Query) headers(extra map[string]string) map[string]string {
	h := map[string]string{}
	if q.single {
		h["Accept"] = "application/vnd.pgrst.object+json"
	}
	for k, v := range extra {
		h[k] = v
	}
	return h
}

func (q *Query) path() string {
	return "/rest/v1/" + q.table
}

// Execute runs a GET and decodes the rows into out.
func (q *Query) Execute(ctx context.Context, out interface{}) error {
	_, err := q.c.do(ctx, request{
		op:      "select " + q.table,
		method:  http.MethodGet,
		path:    q.path(),
		query:   q.params,
		headers: q.headers(nil),
	}, out)
	return err
}

// Insert posts row and decodes the stored representation into out.
func (q *Query) Insert(ctx context.Context, row interface{}, out interface{}) error {
	params := url.Values{}
	if sel := q.params.Get("select"); sel != "" {
		params.Set("select", sel)
	}
	_, err := q.c.do(ctx, request{
		op:      "insert " + q.table,
		method:  http.MethodPost,
		path:    q.path(),
		query:   params,
		body:    row,
		headers: q.headers(map[string]string{"Prefer": "return=representation"}),
	}, out)
	return err
}

// Update patches every row matching the filters.
func (q *Query) Update(ctx context.Context, patch interface{}, out interface{}) error {
	prefer := "return=minimal"
	if out != nil {
		prefer = "return=representation"
	}
	_, err := q.c.do(ctx, request{
		op:      "update " + q.table,
		method:  http.MethodPatch,
		path:    q.path(),
		query:   q.params,
		body:    patch,
		headers: q.headers(map[string]string{"Prefer": prefer}),
	}, out)
	return err
}

// Count returns the exact number of matching rows without fetching them.
func (q *Query) Count(ctx context.Context) (int, error) {
	params := url.Values{}
	for k, v := range q.params {
		params[k] = v
	}
	params.Set("select", "id")
	params.Set("limit", "1")
	header, err := q.c.do(ctx, request{
		op:      "count " + q.table,
		method:  http.MethodGet,
		path:    q.path(),
		query:   params,
		headers: map[string]string{"Prefer": "count=exact"},
	}, nil)
	if err != nil {
		return 0, err
	}
	return parseContentRange(header.Get("Content-Range"))
}

// RPC calls a Postgres function exposed by PostgREST.
func (c *Client) RPC(ctx context.Context, fn string, args interface{}, out interface{}) error {
	if args == nil {
		args = map[string]interface{}{}
	}
	_, err := c.do(ctx, request{
		op:     "rpc " + fn,
		method: http.MethodPost,
		path:   "/rest/v1/rpc/" + fn,
		body:   args,
	}, out)
	return err
}

// parseContentRange reads the total from "0-24/3573" or "*/0".
func parseContentRange(v string) (int, error) {
	i := strings.LastIndex(v, "/")
	if i < 0 || i == len(v)-1 {
		return 0, apperr.New(apperr.KindInternal, "count", fmt.Sprintf("unexpected Content-Range %q", v))
	}
	total := v[i+1:]
	if total == "*" {
		return 0, apperr.New(apperr.KindInternal, "count", "count not returned")
	}
	n, err := strconv.Atoi(total)
	if err != nil {
		return 0, apperr.Wrap(err, apperr.KindInternal, "count", "bad Content-Range total")
	}
	return n, nil
}

func arrayLiteral(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = quoteValue(v)
	}
	return "{" + strings.Join(quoted, ",") + "}"
}

func quoteValue(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `"`, `\"`)
	return `"` + v + `"`
}
