package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hotspot-control-plane/backend/internal/audit/domain"
	"hotspot-control-plane/backend/internal/db/dbtest"
)

func repositories(t *testing.T) map[string]Repository {
	t.Helper()
	out := map[string]Repository{"memory": NewMemoryRepository()}
	if os.Getenv("DATABASE_URL") != "" {
		out["postgres"] = NewPostgresRepository(dbtest.New(t))
	}
	return out
}

func TestRepository_CreateAndList(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Now().UTC().Truncate(time.Microsecond)
			var ids []string
			for i := 0; i < 3; i++ {
				a := &domain.AuditLog{
					ID:         uuid.New().String(),
					ActorID:    "scheduler",
					Action:     "expire",
					Resource:   "account",
					ResourceID: "acc-1",
					Metadata:   `{"n": 1}`,
					CreatedAt:  base.Add(time.Duration(i) * time.Second),
				}
				require.NoError(t, repo.Create(ctx, a))
				ids = append(ids, a.ID)
			}
			require.NoError(t, repo.Create(ctx, &domain.AuditLog{
				ID: uuid.New().String(), Action: "expire", Resource: "account", ResourceID: "acc-2", CreatedAt: base,
			}))

			got, err := repo.GetByID(ctx, ids[0])
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, "scheduler", got.ActorID)
			assert.JSONEq(t, `{"n": 1}`, got.Metadata)

			missing, err := repo.GetByID(ctx, uuid.New().String())
			require.NoError(t, err)
			assert.Nil(t, missing)

			list, err := repo.ListByResource(ctx, "account", "acc-1", 2, 0)
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, ids[2], list[0].ID)
			assert.Equal(t, ids[1], list[1].ID)

			rest, err := repo.ListByResource(ctx, "account", "acc-1", 10, 2)
			require.NoError(t, err)
			require.Len(t, rest, 1)
			assert.Equal(t, ids[0], rest[0].ID)
		})
	}
}
