package errcode

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapMatchesCode(t *testing.T) {
	cause := errors.New("spi: EIO")
	err := Wrap(TransferError, "transfer", cause)

	require.Error(t, err)
	assert.ErrorIs(t, err, TransferError)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, HardwareError)
	assert.Equal(t, "transfer: transfer_error: spi: EIO", err.Error())
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Wrap(TransferError, "transfer", nil))
}

func TestOf(t *testing.T) {
	assert.Equal(t, OK, Of(nil))
	assert.Equal(t, Unsupported, Of(Unsupported))
	assert.Equal(t, HardwareError, Of(New(HardwareError, "gpio set", "enable")))
	assert.Equal(t, InvalidParameter, Of(fmt.Errorf("expander: %w", New(InvalidParameter, "pin", "16"))))
	assert.Equal(t, Timeout, Of(context.DeadlineExceeded))
	assert.Equal(t, Error, Of(errors.New("boom")))
}
