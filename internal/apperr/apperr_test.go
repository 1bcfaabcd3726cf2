package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindsMatchThroughWrapping(t *testing.T) {
	err := fmt.Errorf("check in: %w", Validation("name is required"))
	assert.ErrorIs(t, err, ErrValidation)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "check in: name is required", err.Error())

	assert.ErrorIs(t, NotFound("visitor", "v-1"), ErrNotFound)
}

func TestStorage(t *testing.T) {
	assert.NoError(t, Storage("get visitor", nil))

	cause := errors.New("connection reset")
	err := Storage("get visitor", cause)
	assert.ErrorIs(t, err, ErrStorage)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "get visitor: connection reset")

	known := NotFound("visitor", "v-1")
	assert.Same(t, known, Storage("get visitor", known), "domain errors pass through")
}

func TestPublicMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "validation", err: Validation("visitor_id is required"), want: "visitor_id is required"},
		{name: "not found", err: NotFound("visitor", "v-9"), want: "visitor v-9 not found"},
		{name: "bare duplicate", err: fmt.Errorf("open: %w", ErrDuplicatePresence), want: "visitor is already checked in"},
		{name: "bare not present", err: ErrNotPresent, want: "visitor is not checked in"},
		{name: "storage hides the cause", err: Storage("insert", errors.New("password=hunter2")), want: "internal error"},
		{name: "unknown", err: errors.New("boom"), want: "internal error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PublicMessage(tt.err))
		})
	}
}
