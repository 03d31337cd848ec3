package config

import (
	"fmt"
	"os"
)

// legacyEnv maps connection settings onto the environment variables older
// deployments used.
var legacyEnv = map[string]string{
	KeyEndpointURL: "SUPABASE_URL",
	KeyAPIKey:      "SUPABASE_KEY",
	KeyTableName:   "SUPABASE_TABLE",
}

// EnvStore is the read-only legacy connection store.
type EnvStore struct{}

func (EnvStore) Get(name string) (string, bool) {
	key, ok := legacyEnv[name]
	if !ok {
		return "", false
	}
	v := os.Getenv(key)
	return v, v != ""
}

func (EnvStore) Set(name, _ string) error {
	return fmt.Errorf("legacy environment store is read-only (%s)", name)
}
