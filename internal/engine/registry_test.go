package engine

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenDefaultBackend(t *testing.T) {
	eng, err := Open("", Options{Logger: zerolog.Nop()})
	require.NoError(t, err)
	assert.Equal(t, DefaultBackend, eng.Name())
	assert.Contains(t, Backends(), DefaultBackend)
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := Open("kaldi", Options{})
	assert.ErrorIs(t, err, ErrUnknownBackend)
}

func TestRegisterDuplicatePanics(t *testing.T) {
	assert.Panics(t, func() {
		Register(DefaultBackend, func(Options) (Engine, error) { return nil, nil })
	})
}
