package errs_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/omochice/pairchat/internal/errs"
	"github.com/stretchr/testify/assert"
)

func TestValidationError_Unwrap(t *testing.T) {
	err := fmt.Errorf("login: %w", &errs.ValidationError{Field: "username", Err: errs.ErrEmptyUsername})

	assert.True(t, errs.IsValidation(err))
	assert.False(t, errs.IsFetch(err))
	assert.ErrorIs(t, err, errs.ErrEmptyUsername)
	assert.Contains(t, err.Error(), "invalid username")
}

func TestFetchError_Error(t *testing.T) {
	withStatus := &errs.FetchError{Op: "list chats", StatusCode: 500}
	assert.Equal(t, "list chats: unexpected status 500", withStatus.Error())

	cause := errors.New("connection refused")
	transport := &errs.FetchError{Op: "get history", Err: cause}
	assert.Equal(t, "get history: connection refused", transport.Error())
	assert.ErrorIs(t, transport, cause)
	assert.True(t, errs.IsFetch(fmt.Errorf("refresh: %w", transport)))
}
