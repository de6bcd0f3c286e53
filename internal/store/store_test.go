package store

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"neoexcelsync/pkg/errors"
)

func TestSearchPattern(t *testing.T) {
	tests := []struct {
		search   string
		expected string
		ok       bool
	}{
		{"", "", false},
		{"   ", "", false},
		{"Иванов", "%Иванов%", true},
		{" KZ-100 ", "%KZ-100%", true},
		{"50%_off", `%50\%\_off%`, true},
	}
	for _, tt := range tests {
		got, ok := searchPattern(tt.search)
		assert.Equal(t, tt.ok, ok, tt.search)
		assert.Equal(t, tt.expected, got, tt.search)
	}
}

func TestClientValidation(t *testing.T) {
	c := Client{Name: "  ", Email: " a@b.kz "}.trimmed()
	assert.Equal(t, "a@b.kz", c.Email)
	assert.True(t, errors.IsCode(c.validate(), errors.CodeMissingField))

	assert.NoError(t, Client{Name: "Acme"}.validate())
}

func TestAffected(t *testing.T) {
	assert.NoError(t, affected("delete_client", 1, 1, nil))

	err := affected("delete_client", 7, 0, nil)
	re, ok := errors.AsReconcilerError(err)
	require.True(t, ok)
	assert.Equal(t, errors.CodeNotFound, re.Code)
	assert.Equal(t, int64(7), re.Context["client_id"])
	assert.Equal(t, 404, re.HTTPStatus())

	assert.True(t, errors.IsCode(affected("delete_client", 7, 0, fmt.Errorf("boom")), errors.CodeQueryFailed))
}

func TestNew_RequiresDSN(t *testing.T) {
	_, err := New(context.Background(), "")
	assert.True(t, errors.IsCode(err, errors.CodeMissingConfig))
}

// TestStore_Postgres runs against a live database when
// NEOSYNC_TEST_DATABASE_URL is set.
func TestStore_Postgres(t *testing.T) {
	dsn := os.Getenv("NEOSYNC_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("NEOSYNC_TEST_DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s, err := New(ctx, dsn)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.EnsureSchema(ctx))

	name := fmt.Sprintf("Test client %d", time.Now().UnixNano())
	id, err := s.CreateClient(ctx, Client{Name: name, AccountNumber: "KZ-777"})
	require.NoError(t, err)
	defer func() { _ = s.DeleteClient(ctx, id) }()

	got, err := s.GetClient(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusGray, got.Status)

	require.NoError(t, s.SetClientStatus(ctx, id, "green"))
	items, err := s.SearchClients(ctx, name)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "green", items[0].Status)

	_, err = s.ResetStatuses(ctx)
	require.NoError(t, err)
	got, err = s.GetClient(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusGray, got.Status)

	require.NoError(t, s.DeleteClient(ctx, id))
	_, err = s.GetClient(ctx, id)
	assert.True(t, errors.IsCode(err, errors.CodeNotFound))
}
