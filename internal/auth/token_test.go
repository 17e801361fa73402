package auth_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/serroba/accessdesk/internal/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMemoryTokenStore(t *testing.T) {
	ctx := context.Background()
	s := auth.NewMemoryTokenStore("")

	_, err := s.Token(ctx)
	require.ErrorIs(t, err, auth.ErrNoToken)

	require.NoError(t, s.SetToken(ctx, "abc"))

	token, err := s.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "abc", token)

	require.NoError(t, s.Clear(ctx))

	_, err = s.Token(ctx)
	assert.ErrorIs(t, err, auth.ErrNoToken)
}

func TestFileTokenStore(t *testing.T) {
	ctx := context.Background()
	s := auth.NewFileTokenStore(filepath.Join(t.TempDir(), "nested", "token"))

	_, err := s.Token(ctx)
	require.ErrorIs(t, err, auth.ErrNoToken)

	require.NoError(t, s.SetToken(ctx, "secret\n"))

	token, err := s.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "secret", token)

	require.NoError(t, s.Clear(ctx))
	require.NoError(t, s.Clear(ctx), "clearing twice is fine")

	_, err = s.Token(ctx)
	assert.ErrorIs(t, err, auth.ErrNoToken)
}

type failingStore struct {
	auth.MemoryTokenStore
}

func (*failingStore) Clear(context.Context) error { return errors.New("locked") }

func TestSignOut(t *testing.T) {
	t.Run("clears the token then redirects", func(t *testing.T) {
		ctx := context.Background()
		tokens := auth.NewMemoryTokenStore("abc")
		redirected := false

		signOut := auth.SignOut(tokens, func(context.Context) { redirected = true }, zap.NewNop())

		require.NoError(t, signOut(ctx))

		_, err := tokens.Token(ctx)
		assert.ErrorIs(t, err, auth.ErrNoToken)
		assert.True(t, redirected)
	})

	t.Run("does not redirect when clearing fails", func(t *testing.T) {
		redirected := false

		signOut := auth.SignOut(&failingStore{}, func(context.Context) { redirected = true }, zap.NewNop())

		assert.Error(t, signOut(context.Background()))
		assert.False(t, redirected)
	})
}
