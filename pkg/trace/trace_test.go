package trace

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnsure_KeepsExistingID(t *testing.T) {
	ctx := WithContext(context.Background(), "abc")
	assert.Equal(t, "abc", FromContext(Ensure(ctx)))
}

func TestEnsure_GeneratesID(t *testing.T) {
	ctx := Ensure(context.Background())
	id := FromContext(ctx)
	assert.Len(t, id, 32)
	assert.NotEqual(t, id, FromContext(Ensure(context.Background())))
}
