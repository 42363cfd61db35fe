package repository

import (
	"context"
	"regexp"
	"testing"

	"postsync/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestProfileRepository_GetByID(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewProfileRepository(db)
	ctx := context.Background()

	tests := []struct {
		name         string
		mockBehavior func()
		expectedName string
		expectedCode string
	}{
		{
			name: "Success",
			mockBehavior: func() {
				mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "profiles" WHERE id = $1 ORDER BY "profiles"."id" LIMIT $2`)).
					WithArgs("u1", 1).
					WillReturnRows(sqlmock.NewRows([]string{"id", "email", "full_name"}).AddRow("u1", "ada@example.com", "Ada"))
			},
			expectedName: "Ada",
		},
		{
			name: "Not Found",
			mockBehavior: func() {
				mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "profiles" WHERE id = $1`)).
					WithArgs("u1", 1).
					WillReturnError(gorm.ErrRecordNotFound)
			},
			expectedCode: models.CodeNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.mockBehavior()

			profile, err := repo.GetByID(ctx, "u1")
			if tt.expectedCode != "" {
				assert.True(t, models.HasCode(err, tt.expectedCode))
				assert.Nil(t, profile)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.expectedName, profile.FullName)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestProfileRepository_CreateAssignsID(t *testing.T) {
	db := setupSQLiteDB(t)
	repo := NewProfileRepository(db)
	ctx := context.Background()

	profile := &models.Profile{Email: "grace@example.com", FullName: "Grace"}
	require.NoError(t, repo.Create(ctx, profile))
	require.NotEmpty(t, profile.ID)

	got, err := repo.GetByID(ctx, profile.ID)
	require.NoError(t, err)
	assert.Equal(t, "grace@example.com", got.Email)
}
