// Package store persists domain records as jsonb documents keyed by
// domain name. Mutations are read-modify-write over the full document,
// serialized per domain so concurrent workers never clobber each other's
// fields.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/xkilldash9x/statehound/internal/domain"
	"github.com/xkilldash9x/statehound/internal/idp"
	"go.uber.org/zap"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store provides a PostgreSQL implementation of the domain record repository.
type Store struct {
	pool DBPool
	log  *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool:  pool,
		log:   logger.Named("store"),
		locks: make(map[string]*sync.Mutex),
	}, nil
}

// InitSchema creates the domains table if it does not exist.
func (s *Store) InitSchema(ctx context.Context) error {
	sql := `
        CREATE TABLE IF NOT EXISTS domains (
            name TEXT PRIMARY KEY,
            doc  JSONB NOT NULL
        );
    `
	if _, err := s.pool.Exec(ctx, sql); err != nil {
		return fmt.Errorf("failed to create domains table: %w", err)
	}
	return nil
}

// domainLock returns the mutex serializing writes for one domain.
func (s *Store) domainLock(name string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[name]
	if !ok {
		l = &sync.Mutex{}
		s.locks[name] = l
	}
	return l
}

// Get loads one domain record. It returns pgx.ErrNoRows when the domain
// is unknown.
func (s *Store) Get(ctx context.Context, name string) (*domain.Record, error) {
	var doc []byte
	row := s.pool.QueryRow(ctx, `SELECT doc FROM domains WHERE name = $1;`, name)
	if err := row.Scan(&doc); err != nil {
		return nil, fmt.Errorf("failed to load domain %s: %w", name, err)
	}

	var rec domain.Record
	if err := json.Unmarshal(doc, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode document for %s: %w", name, err)
	}
	rec.Domain = name
	return &rec, nil
}

// Upsert writes the full document for a domain, inserting or replacing.
func (s *Store) Upsert(ctx context.Context, rec *domain.Record) error {
	doc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode document for %s: %w", rec.Domain, err)
	}

	sql := `
        INSERT INTO domains (name, doc)
        VALUES ($1, $2)
        ON CONFLICT (name) DO UPDATE SET doc = EXCLUDED.doc;
    `
	if _, err := s.pool.Exec(ctx, sql, rec.Domain, doc); err != nil {
		return fmt.Errorf("failed to upsert domain %s: %w", rec.Domain, err)
	}
	return nil
}

// Update applies mutate to the provider entry of one domain under the
// domain's write lock and persists the result. The entry is created if
// the record does not carry the provider yet.
func (s *Store) Update(ctx context.Context, name string, provider idp.Provider, mutate func(*domain.ProviderInfo)) error {
	lock := s.domainLock(name)
	lock.Lock()
	defer lock.Unlock()

	rec, err := s.Get(ctx, name)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return err
		}
		rec = &domain.Record{Domain: name}
	}

	info, ok := rec.IdP(provider)
	if !ok {
		rec.IdPs = append(rec.IdPs, domain.ProviderInfo{Name: provider})
		info = &rec.IdPs[len(rec.IdPs)-1]
	}
	mutate(info)

	return s.Upsert(ctx, rec)
}

// SetOutcome records the verdict for one attack variant.
func (s *Store) SetOutcome(ctx context.Context, name string, provider idp.Provider, v domain.Variant, vulnerable *bool) error {
	return s.Update(ctx, name, provider, func(info *domain.ProviderInfo) {
		info.SetVulnerable(v, vulnerable)
	})
}

// SetAuthorizationResponse records the response URL captured during an
// attack run. With overwrite false an existing non-empty value is kept,
// so the first captured response for a variant wins.
func (s *Store) SetAuthorizationResponse(ctx context.Context, name string, provider idp.Provider, v domain.Variant, response string, overwrite bool) error {
	return s.Update(ctx, name, provider, func(info *domain.ProviderInfo) {
		info.RecordAuthorizationResponse(v, response, overwrite)
	})
}

// SetAuthorizationError records why the authorization leg failed.
func (s *Store) SetAuthorizationError(ctx context.Context, name string, provider idp.Provider, reason string) error {
	return s.Update(ctx, name, provider, func(info *domain.ProviderInfo) {
		info.AuthorizationError = reason
	})
}

// SetAuthorization records the authorization URL and the flow extracted
// from it during the login check.
func (s *Store) SetAuthorization(ctx context.Context, name string, provider idp.Provider, authorizationURL, flow string) error {
	return s.Update(ctx, name, provider, func(info *domain.ProviderInfo) {
		info.AuthorizationURL = authorizationURL
		info.OAuthFlow = flow
	})
}

// SetStatePair records the original and substituted state values used in
// a permutation attack.
func (s *Store) SetStatePair(ctx context.Context, name string, provider idp.Provider, state, newState string) error {
	return s.Update(ctx, name, provider, func(info *domain.ProviderInfo) {
		info.State = state
		info.NewState = newState
	})
}

// SetMarker records the identity marker the baseline login left behind.
// MarkerURL is untouched: that field belongs to the crawl, which knows
// which internal page shows markers without a login.
func (s *Store) SetMarker(ctx context.Context, name string, provider idp.Provider, marker string) error {
	return s.Update(ctx, name, provider, func(info *domain.ProviderInfo) {
		info.Marker = marker
	})
}

// All loads every domain record.
func (s *Store) All(ctx context.Context) ([]domain.Record, error) {
	rows, err := s.pool.Query(ctx, `SELECT name, doc FROM domains ORDER BY name;`)
	if err != nil {
		return nil, fmt.Errorf("failed to query domains: %w", err)
	}
	defer rows.Close()

	var records []domain.Record
	for rows.Next() {
		var name string
		var doc []byte
		if err := rows.Scan(&name, &doc); err != nil {
			return nil, fmt.Errorf("failed to scan domain row: %w", err)
		}
		var rec domain.Record
		if err := json.Unmarshal(doc, &rec); err != nil {
			return nil, fmt.Errorf("failed to decode document for %s: %w", name, err)
		}
		rec.Domain = name
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return records, nil
}

// AttackDomains returns the eligible attack targets for a provider in a
// fresh random order.
func (s *Store) AttackDomains(ctx context.Context, provider idp.Provider, sf domain.StateFilter) ([]domain.Record, error) {
	records, err := s.All(ctx)
	if err != nil {
		return nil, err
	}
	return domain.AttackDomains(records, provider, sf), nil
}

// AttackIncomplete returns the eligible targets whose verdict for the
// variant is still pending.
func (s *Store) AttackIncomplete(ctx context.Context, provider idp.Provider, v domain.Variant) ([]domain.Record, error) {
	records, err := s.All(ctx)
	if err != nil {
		return nil, err
	}
	return domain.AttackIncomplete(records, provider, v, v.Scenario.RequiresState()), nil
}

// LoginIncomplete returns the domains whose login check has not finished.
func (s *Store) LoginIncomplete(ctx context.Context, provider idp.Provider) ([]domain.Record, error) {
	records, err := s.All(ctx)
	if err != nil {
		return nil, err
	}
	return domain.LoginIncomplete(records, provider), nil
}

// CheckDomains returns the domains the check-login pass should visit,
// including crawl-fresh records that have no authorization dialog yet.
func (s *Store) CheckDomains(ctx context.Context, provider idp.Provider) ([]domain.Record, error) {
	records, err := s.All(ctx)
	if err != nil {
		return nil, err
	}
	return domain.CheckDomains(records, provider), nil
}
