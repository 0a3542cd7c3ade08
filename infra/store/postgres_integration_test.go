//go:build integration

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	corestore "github.com/kilianp07/roster/core/store"
	"github.com/kilianp07/roster/test/util"
)

func TestPostgresStore(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	dsn, cleanup, err := util.StartPostgres(ctx)
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	t.Cleanup(cleanup)

	runContract(t, func(t *testing.T) corestore.Store {
		s, err := NewPostgresStore(dsn)
		require.NoError(t, err)
		t.Cleanup(func() {
			for _, table := range []string{"audit_records", "assignments", "plans", "forecasts"} {
				_, _ = s.db.Exec("DELETE FROM " + table)
			}
			_ = s.Close()
		})
		return s
	})
}
