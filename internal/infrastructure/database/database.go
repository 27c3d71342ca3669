package database

import (
	"context"
	"database/sql"
	"reflect"
	"sort"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"changesetrunner/internal/domain"
	"changesetrunner/internal/infrastructure/postgres"
	"changesetrunner/internal/infrastructure/sqlite"
)

// driverBackends maps a database/sql driver name to the backend it speaks.
var driverBackends = map[string]string{
	"postgres": postgres.ShortName,
	"pgx":      postgres.ShortName,
	"sqlite":   sqlite.ShortName,
}

// connPackages maps the package of a driver connection to its backend.
var connPackages = map[string]string{
	"github.com/lib/pq":              postgres.ShortName,
	"github.com/jackc/pgx/v5/stdlib": postgres.ShortName,
	"modernc.org/sqlite":             sqlite.ShortName,
}

func SupportedDrivers() []string {
	names := make([]string, 0, len(driverBackends))
	for name := range driverBackends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Provider is a pooled connection source. It dials lazily, so an unreachable
// server is only reported when a connection is requested.
type Provider struct {
	db         *sql.DB
	driverName string
}

func Open(driverName, dsn string) (*Provider, error) {
	if _, ok := driverBackends[driverName]; !ok {
		return nil, errors.Errorf("unknown database driver %q (supported: %v)", driverName, SupportedDrivers())
	}
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "can't open connection pool")
	}
	return &Provider{db: db, driverName: driverName}, nil
}

// NewProvider wraps an already opened pool. Its driver is detected per connection.
func NewProvider(db *sql.DB) *Provider {
	return &Provider{db: db}
}

// DriverName is the database/sql driver the pool was opened with, or "" when unknown.
func (p *Provider) DriverName() string {
	return p.driverName
}

func (p *Provider) Conn(ctx context.Context) (*sql.Conn, error) {
	conn, err := p.db.Conn(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "can't acquire connection")
	}
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "can't ping database")
	}
	return conn, nil
}

func (p *Provider) Close() error {
	return p.db.Close()
}

// Resolve returns the backend implementation for conn. A known driverName
// decides it; otherwise the driver connection's package is inspected.
func Resolve(conn *sql.Conn, driverName string, logger log.FieldLogger) (domain.Database, error) {
	backend, ok := driverBackends[driverName]
	if !ok {
		var err error
		if backend, err = inspect(conn); err != nil {
			return nil, err
		}
	}

	switch backend {
	case postgres.ShortName:
		return postgres.NewDatabase(conn, logger), nil
	case sqlite.ShortName:
		return sqlite.NewDatabase(conn), nil
	}
	return nil, errors.Wrapf(domain.ErrUnsupportedDatabase, "driver %q", driverName)
}

func inspect(conn *sql.Conn) (string, error) {
	var pkg, typeName string
	err := conn.Raw(func(driverConn any) error {
		t := reflect.TypeOf(driverConn)
		typeName = t.String()
		if t.Kind() == reflect.Pointer {
			t = t.Elem()
		}
		pkg = t.PkgPath()
		return nil
	})
	if err != nil {
		return "", errors.Wrap(err, "inspect driver connection")
	}
	backend, ok := connPackages[pkg]
	if !ok {
		return "", errors.Wrapf(domain.ErrUnsupportedDatabase, "driver connection %s", typeName)
	}
	return backend, nil
}
