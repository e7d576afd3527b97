package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	platformsqlite "pmhub/internal/platform/sqlite"
	audit "pmhub/pkg/platform/audit"
	"pmhub/pkg/platform/audit/store/audittest"
)

func TestSQLiteAuditStoreContract(t *testing.T) {
	audittest.RunAuditStoreContract(t, func(t *testing.T) audit.Store {
		db, err := platformsqlite.Open(context.Background(), ":memory:")
		require.NoError(t, err)
		t.Cleanup(func() { _ = db.Close() })
		return New(db)
	})
}
