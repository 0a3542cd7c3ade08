package store

import (
	"fmt"

	"github.com/kilianp07/roster/core/factory"
	corestore "github.com/kilianp07/roster/core/store"
)

// init registers the built-in store backends.
func init() {
	_ = corestore.Register("memory", func(map[string]any) (corestore.Store, error) {
		return NewMemoryStore(), nil
	})

	_ = corestore.Register("sqlite", func(conf map[string]any) (corestore.Store, error) {
		var c struct {
			Path string `json:"path"`
		}
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		if c.Path == "" {
			c.Path = "roster.db"
		}
		return NewSQLiteStore(c.Path)
	})

	_ = corestore.Register("postgres", func(conf map[string]any) (corestore.Store, error) {
		var c struct {
			DSN string `json:"dsn"`
		}
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		if c.DSN == "" {
			return nil, fmt.Errorf("postgres store: dsn required")
		}
		return NewPostgresStore(c.DSN)
	})
}
