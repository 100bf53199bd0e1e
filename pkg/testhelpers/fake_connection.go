// Package testhelpers provides utilities for testing snowflake-writer components.
package testhelpers

import (
	"context"
	"strings"
	"sync"

	"github.com/wr-db/snowflake-writer/pkg/adapters/datasource"
	"github.com/wr-db/snowflake-writer/pkg/apperrors"
	sqlbuilder "github.com/wr-db/snowflake-writer/pkg/sql"
)

// QueryHandler answers a statement routed to it by prefix.
type QueryHandler func(query string) ([]datasource.Row, error)

type route struct {
	prefix  string
	handler QueryHandler
}

// FakeConnection is a scripted datasource.Connection. It records every
// statement and answers them from handlers registered by statement prefix.
// Later registrations win over earlier ones. Unmatched statements succeed
// with no rows.
type FakeConnection struct {
	mu         sync.Mutex
	statements []string
	routes     []route
	closed     bool
}

var _ datasource.Connection = (*FakeConnection)(nil)

// NewFakeConnection returns an empty fake.
func NewFakeConnection() *FakeConnection {
	return &FakeConnection{}
}

// OnQuery returns rows for statements starting with prefix.
func (f *FakeConnection) OnQuery(prefix string, rows ...datasource.Row) *FakeConnection {
	return f.Handle(prefix, func(string) ([]datasource.Row, error) {
		return rows, nil
	})
}

// FailOn makes statements starting with prefix fail the way the real
// connection does: a UserError carrying the driver message.
func (f *FakeConnection) FailOn(prefix, driverMessage string) *FakeConnection {
	return f.Handle(prefix, func(string) ([]datasource.Row, error) {
		return nil, apperrors.NewUserError(nil, "Query execution error: %s", driverMessage)
	})
}

// Handle routes statements starting with prefix to h.
func (f *FakeConnection) Handle(prefix string, h QueryHandler) *FakeConnection {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes = append(f.routes, route{prefix: prefix, handler: h})
	return f
}

func (f *FakeConnection) Exec(ctx context.Context, query string) error {
	_, err := f.FetchAll(ctx, query)
	return err
}

func (f *FakeConnection) FetchAll(_ context.Context, query string) ([]datasource.Row, error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, apperrors.NewApplicationError(nil, "connection is closed")
	}
	f.statements = append(f.statements, query)
	var handler QueryHandler
	for i := len(f.routes) - 1; i >= 0; i-- {
		if strings.HasPrefix(query, f.routes[i].prefix) {
			handler = f.routes[i].handler
			break
		}
	}
	f.mu.Unlock()

	if handler == nil {
		return nil, nil
	}
	return handler(query)
}

func (f *FakeConnection) QuoteIdentifier(s string) string {
	return sqlbuilder.QuoteIdentifier(s)
}

func (f *FakeConnection) QuoteLiteral(s string) string {
	return sqlbuilder.QuoteLiteral(s)
}

func (f *FakeConnection) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Closed reports whether Close was called.
func (f *FakeConnection) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Statements returns every statement issued so far, in order.
func (f *FakeConnection) Statements() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.statements...)
}

// StatementsWithPrefix returns the issued statements starting with prefix.
func (f *FakeConnection) StatementsWithPrefix(prefix string) []string {
	var out []string
	for _, s := range f.Statements() {
		if strings.HasPrefix(s, prefix) {
			out = append(out, s)
		}
	}
	return out
}

// IndexOf returns the position of the first statement starting with prefix, or -1.
func (f *FakeConnection) IndexOf(prefix string) int {
	for i, s := range f.Statements() {
		if strings.HasPrefix(s, prefix) {
			return i
		}
	}
	return -1
}
