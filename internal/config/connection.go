package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Logical connection setting names shared by every Store.
const (
	KeyEndpointURL = "endpointUrl"
	KeyAPIKey      = "apiKey"
	KeyTableName   = "tableName"
)

const DefaultTableName = "chat_logs"

// Keys lists the connection settings in resolution order.
var Keys = []string{KeyEndpointURL, KeyAPIKey, KeyTableName}

var ErrMissing = errors.New("connection settings missing")

// Connection is the destination datastore the uploader posts records to.
type Connection struct {
	EndpointURL string
	APIKey      string
	TableName   string
}

// Store is a named-value source for connection settings.
type Store interface {
	Get(name string) (string, bool)
	Set(name, value string) error
}

// Resolver looks each setting up in the primary store first, then in each
// fallback in order. A value found in a fallback is copied into the primary.
type Resolver struct {
	primary   Store
	fallbacks []Store
	logger    *slog.Logger
}

func NewResolver(logger *slog.Logger, primary Store, fallbacks ...Store) *Resolver {
	return &Resolver{primary: primary, fallbacks: fallbacks, logger: logger}
}

// Lookup returns the first non-empty value for name.
func (r *Resolver) Lookup(name string) (string, bool) {
	if r.primary != nil {
		if v, ok := r.primary.Get(name); ok && v != "" {
			return v, true
		}
	}
	for _, s := range r.fallbacks {
		v, ok := s.Get(name)
		if !ok || v == "" {
			continue
		}
		if r.primary != nil {
			if err := r.primary.Set(name, v); err != nil {
				r.logger.Warn("failed to persist connection setting", "name", name, "error", err)
			}
		}
		return v, true
	}
	return "", false
}

// Resolve returns the full connection, or ErrMissing when the endpoint or key
// cannot be found anywhere. The table name falls back to DefaultTableName.
func (r *Resolver) Resolve() (Connection, error) {
	var missing []string

	endpoint, ok := r.Lookup(KeyEndpointURL)
	if !ok {
		missing = append(missing, KeyEndpointURL)
	}
	key, ok := r.Lookup(KeyAPIKey)
	if !ok {
		missing = append(missing, KeyAPIKey)
	}
	if len(missing) > 0 {
		return Connection{}, fmt.Errorf("%w: %s", ErrMissing, strings.Join(missing, ", "))
	}

	table, ok := r.Lookup(KeyTableName)
	if !ok {
		table = DefaultTableName
	}

	return Connection{
		EndpointURL: strings.TrimRight(endpoint, "/"),
		APIKey:      key,
		TableName:   table,
	}, nil
}

// Mask hides all but the last four characters of a secret.
func Mask(secret string) string {
	if len(secret) <= 4 {
		return strings.Repeat("*", len(secret))
	}
	return strings.Repeat("*", len(secret)-4) + secret[len(secret)-4:]
}

// KeyFromName accepts either a logical setting name or its file key
// (endpoint_url, api_key, table_name).
func KeyFromName(name string) (string, bool) {
	switch name {
	case KeyEndpointURL, "endpoint_url":
		return KeyEndpointURL, true
	case KeyAPIKey, "api_key":
		return KeyAPIKey, true
	case KeyTableName, "table_name":
		return KeyTableName, true
	}
	return "", false
}
