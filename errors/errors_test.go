package errors_test

import (
	"fmt"
	"testing"

	"github.com/featurebasedb/tetra/errors"
	"github.com/stretchr/testify/assert"
)

func TestErrors(t *testing.T) {
	t.Run("Is", func(t *testing.T) {
		locked := newErrLocked(7)
		unknown := newErrUnknownHandle(42)
		custom := errors.New(errors.ErrLocked, "custom lock message")

		tests := []struct {
			err    error
			target errors.Code
			exp    bool
		}{
			{
				err:    locked,
				target: errors.ErrLocked,
				exp:    true,
			},
			{
				err:    locked,
				target: errors.ErrUnknownHandle,
				exp:    false,
			},
			{
				err:    unknown,
				target: errors.ErrUnknownHandle,
				exp:    true,
			},
			{
				err:    errors.Wrap(unknown, "with message"),
				target: errors.ErrUnknownHandle,
				exp:    true,
			},
			{
				err:    errors.Wrapf(errors.Wrap(locked, "inner"), "outer %d", 1),
				target: errors.ErrLocked,
				exp:    true,
			},
			{
				err:    custom,
				target: errors.ErrLocked,
				exp:    true,
			},
			{
				err:    fmt.Errorf("plain"),
				target: errors.ErrLocked,
				exp:    false,
			},
		}

		for i, test := range tests {
			t.Run(fmt.Sprintf("test-%d", i), func(t *testing.T) {
				got := errors.Is(test.err, test.target)
				assert.Equal(t, test.exp, got)
			})
		}
	})

	t.Run("CodeOf", func(t *testing.T) {
		assert.Equal(t, errors.ErrLocked, errors.CodeOf(errors.Wrap(newErrLocked(1), "ctx")))
		assert.Equal(t, errors.ErrUncoded, errors.CodeOf(fmt.Errorf("plain")))
	})

	t.Run("Fatal", func(t *testing.T) {
		assert.False(t, errors.Fatal(newErrLocked(3)))
		assert.False(t, errors.Fatal(errors.New(errors.ErrPositionNotAllowed, "no")))
		assert.True(t, errors.Fatal(errors.New(errors.ErrUnlockedOverwrite, "overwrite")))
		assert.True(t, errors.Fatal(errors.Wrap(errors.New(errors.ErrInvariant, "broken"), "commit")))
	})

	t.Run("Newf", func(t *testing.T) {
		err := errors.Newf(errors.ErrAddressExhausted, "partition %d exhausted", 3)
		assert.Equal(t, "partition 3 exhausted", err.Error())
		assert.True(t, errors.Is(err, errors.ErrAddressExhausted))
	})
}

func newErrLocked(holder uint64) error {
	return errors.Newf(
		errors.ErrLocked,
		"locked by transaction %d", holder,
	)
}

func newErrUnknownHandle(addr uint64) error {
	return errors.Newf(
		errors.ErrUnknownHandle,
		"unknown handle %d", addr,
	)
}
