package main

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xkilldash9x/tablebook/cmd"
	"github.com/xkilldash9x/tablebook/internal/failure"
)

func TestRunExitCodes(t *testing.T) {
	defer func() { execute = cmd.Execute }()

	execute = func(context.Context) error { return nil }
	assert.Equal(t, 0, run(context.Background()))

	execute = func(context.Context) error {
		return failure.Newf(failure.KindConfirmationTimeout, "no confirmation text")
	}
	assert.Equal(t, 1, run(context.Background()))

	execute = func(context.Context) error { return context.Canceled }
	assert.Equal(t, 1, run(context.Background()))

	execute = func(context.Context) error { return errors.New("boom") }
	assert.Equal(t, 1, run(context.Background()))
}
