package transport

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	appErrors "github.com/unclebandit/creatorsync/internal/errors"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status    int
		permanent bool
	}{
		{400, true},
		{401, true},
		{404, true},
		{408, false},
		{429, false},
		{500, false},
		{503, false},
	}
	for _, tt := range tests {
		err := ClassifyStatus("acme", tt.status, "nope")
		assert.Error(t, err)
		assert.Equal(t, tt.permanent, IsPermanent(err), "status %d", tt.status)
		assert.Equal(t, tt.permanent, IsPermanent(fmt.Errorf("attempt 1: %w", err)), "wrapped status %d", tt.status)
	}
}

func TestPermanentErrorIsRejection(t *testing.T) {
	err := fmt.Errorf("attempt 2: %w", ClassifyStatus("acme", 422, "bad template"))
	assert.ErrorIs(t, err, appErrors.ErrRejected)
	assert.True(t, IsPermanent(appErrors.NewRejected("blocked recipient")))
	assert.False(t, IsPermanent(fmt.Errorf("dial tcp: connection refused")))
}
