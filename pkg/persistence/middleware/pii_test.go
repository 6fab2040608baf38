package middleware_test

import (
	"context"
	"testing"

	"github.com/aretw0/marionette/pkg/adapters/memory"
	"github.com/aretw0/marionette/pkg/domain"
	"github.com/aretw0/marionette/pkg/persistence/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPIIMiddleware_Masking(t *testing.T) {
	inner := memory.NewStore()
	mw, err := middleware.NewPIIMiddleware([]string{"password", "ssn", "^session$"})
	require.NoError(t, err)
	store := mw(inner)
	ctx := context.Background()

	cp := &domain.Checkpoint{
		ID: "pii",
		Globals: map[string]any{
			"username":      "jdoe",
			"user_password": "secret123",
			"details":       map[string]any{"address": "123 St", "ssn_number": "999-99-9999"},
			"people":        []any{map[string]any{"ssn": "111"}},
		},
		Cookies: []domain.Cookie{{Name: "session", Value: "tok"}, {Name: "lang", Value: "en"}},
	}
	require.NoError(t, store.Save(ctx, cp))

	assert.Equal(t, "secret123", cp.Globals["user_password"], "caller copy untouched")
	assert.Equal(t, "tok", cp.Cookies[0].Value)

	stored, err := inner.Load(ctx, "pii")
	require.NoError(t, err)
	assert.Equal(t, "jdoe", stored.Globals["username"])
	assert.Equal(t, middleware.Mask, stored.Globals["user_password"])
	details := stored.Globals["details"].(map[string]any)
	assert.Equal(t, "123 St", details["address"])
	assert.Equal(t, middleware.Mask, details["ssn_number"])
	assert.Equal(t, middleware.Mask, stored.Globals["people"].([]any)[0].(map[string]any)["ssn"])
	assert.Equal(t, middleware.Mask, stored.Cookies[0].Value)
	assert.Equal(t, "en", stored.Cookies[1].Value)
}

func TestPIIMiddleware_InvalidPattern(t *testing.T) {
	_, err := middleware.NewPIIMiddleware([]string{"("})
	assert.Error(t, err)
}

func TestChain_OrderAndMasking(t *testing.T) {
	inner := memory.NewStore()
	pii, err := middleware.NewPIIMiddleware([]string{"token"})
	require.NoError(t, err)
	enc, err := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: generateKey(t)})
	require.NoError(t, err)

	store := middleware.Chain(inner, pii, enc)
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, &domain.Checkpoint{ID: "c", Globals: map[string]any{"token": "t", "k": "v"}}))

	loaded, err := store.Load(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, middleware.Mask, loaded.Globals["token"])
	assert.Equal(t, "v", loaded.Globals["k"])
}
