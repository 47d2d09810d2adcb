package scylla

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"school-service/internal/config"
	"school-service/internal/models"
	"school-service/internal/repository"
)

func newTestClient(t *testing.T) *ScyllaClient {
	t.Helper()
	nodes := os.Getenv("SCYLLA_NODES")
	if nodes == "" {
		t.Skip("SCYLLA_NODES not set")
	}
	cfg := &config.Config{
		Environment: "development",
		Scylla: config.ScyllaConfig{
			Nodes:    strings.Split(nodes, ","),
			Keyspace: os.Getenv("SCYLLA_KEYSPACE"),
		},
	}
	c, err := NewScyllaClient(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestUserRepository_UniqueIdentification(t *testing.T) {
	repo := NewUserRepository(newTestClient(t))
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	ident := "T-" + uuid.NewString()[:8]

	u := &models.User{
		UserID:         uuid.NewString(),
		Identification: ident,
		Email:          ident + "@school.test",
		Role:           models.RoleTeacher,
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	require.NoError(t, repo.CreateUser(ctx, u))

	dup := *u
	dup.UserID = uuid.NewString()
	dup.Email = "other-" + dup.Email
	assert.ErrorIs(t, repo.CreateUser(ctx, &dup), repository.ErrDuplicate)

	got, err := repo.GetUserByIdentification(ctx, strings.ToUpper(ident))
	require.NoError(t, err)
	assert.Equal(t, u.UserID, got.UserID)
}

func TestRecordRepository_Lifecycle(t *testing.T) {
	repo := NewRecordRepository(newTestClient(t))
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	rec := &models.Record{
		ID:         uuid.NewString(),
		Collection: models.CollectionTasks,
		Fields:     map[string]any{"title": "Lab report", "courseId": "c-" + uuid.NewString()},
		IsActive:   true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	require.NoError(t, repo.Insert(ctx, rec))
	assert.ErrorIs(t, repo.Insert(ctx, rec), repository.ErrDuplicate)

	rec.Fields["title"] = "Lab report v2"
	require.NoError(t, repo.Update(ctx, rec))
	got, err := repo.Get(ctx, models.CollectionTasks, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "Lab report v2", got.Fields["title"])

	require.NoError(t, repo.Delete(ctx, models.CollectionTasks, rec.ID))
	_, err = repo.Get(ctx, models.CollectionTasks, rec.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}
