package errors_test

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/legit-games/oauth2/errors"
)

func TestWireError(t *testing.T) {
	assert.Equal(t, errors.ErrInvalidGrant, errors.WireError(errors.ErrInvalidGrantReuse))
	assert.Equal(t, errors.ErrInvalidGrant, errors.WireError(errors.ErrInvalidTokenReuse))
	assert.Equal(t, errors.ErrInvalidToken, errors.WireError(errors.ErrInvalidTokenExpired))
	assert.Equal(t, errors.ErrInvalidScope, errors.WireError(fmt.Errorf("narrowing: %w", errors.ErrInvalidScope)))
	assert.Equal(t, errors.ErrServerError, errors.WireError(errors.New("connection refused")))
	assert.Equal(t, errors.ErrServerError, errors.WireError(errors.ErrNotFound))
}

func TestReuseVariants(t *testing.T) {
	assert.True(t, errors.Is(errors.ErrInvalidGrantReuse, errors.ErrInvalidGrant))
	assert.False(t, errors.Is(errors.ErrInvalidGrant, errors.ErrInvalidGrantReuse))
	assert.Equal(t, "invalid_grant_reuse", errors.ErrInvalidGrantReuse.Error())
	assert.True(t, errors.IsReuse(fmt.Errorf("exchange: %w", errors.ErrInvalidGrantReuse)))
	assert.True(t, errors.IsReuse(errors.ErrInvalidTokenReuse))
	assert.False(t, errors.IsReuse(errors.ErrInvalidGrant))
}

func TestDescription(t *testing.T) {
	assert.Equal(t, "The access token expired", errors.Description(errors.ErrInvalidTokenExpired))
	assert.Equal(t, errors.Descriptions[errors.ErrInvalidGrant], errors.Description(errors.ErrInvalidGrantReuse))
	assert.Equal(t, errors.Descriptions[errors.ErrServerError], errors.Description(errors.New("boom")))
	assert.Equal(t, http.StatusForbidden, errors.StatusCodes[errors.ErrInsufficientScope])
}
