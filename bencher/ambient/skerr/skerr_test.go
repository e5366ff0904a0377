package skerr_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.bencher.dev/core/bencher/ambient/skerr"
)

func TestWrap_NilError_ReturnsNil(t *testing.T) {
	require.NoError(t, skerr.Wrap(nil))
}

func TestWrap_Unwrap_RoundTrips(t *testing.T) {
	base := errors.New("boom")
	wrapped := skerr.Wrap(base)
	require.Equal(t, base, skerr.Unwrap(wrapped))
	require.True(t, errors.Is(wrapped, base))
}

func TestWrapf_AddsMessage(t *testing.T) {
	base := errors.New("boom")
	wrapped := skerr.Wrapf(base, "while doing %s", "a thing")
	require.Contains(t, wrapped.Error(), "while doing a thing")
	require.Contains(t, wrapped.Error(), "boom")
	require.Equal(t, base, skerr.Unwrap(wrapped))
}

func TestFmt_CreatesNewError(t *testing.T) {
	err := skerr.Fmt("missing %s", "widget")
	require.EqualError(t, skerr.Unwrap(err), "missing widget")
}
