package tenant

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompanyID(t *testing.T) {
	_, err := FromContext(context.Background())
	assert.ErrorIs(t, err, ErrCompanyIDNotFound)

	ctx := WithCompanyID(context.Background(), "acme")
	got, err := FromContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, "acme", got)
}

func TestRequestID(t *testing.T) {
	_, err := FromRequestIDContext(WithRequestID(context.Background(), ""))
	assert.ErrorIs(t, err, ErrNoRequestIDInContext)

	got, err := FromRequestIDContext(WithRequestID(context.Background(), "req-1"))
	require.NoError(t, err)
	assert.Equal(t, "req-1", got)
}

func TestActorFromContext(t *testing.T) {
	assert.Equal(t, SystemActor, ActorFromContext(context.Background()))
	assert.Equal(t, "planner-7", ActorFromContext(WithActor(context.Background(), "planner-7")))
}
