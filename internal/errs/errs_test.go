package errs

import (
	"database/sql"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Wrap(nil))
}

func TestWrapKeepsIdentity(t *testing.T) {
	err := Wrap(sql.ErrNoRows)
	require.Error(t, err)
	assert.True(t, errors.Is(err, sql.ErrNoRows))
	assert.Equal(t, sql.ErrNoRows.Error(), err.Error())
}

func TestWrapOnce(t *testing.T) {
	first := Wrap(errors.New("boom"))
	assert.Same(t, first, Wrap(first))
}

func TestStackMentionsCaller(t *testing.T) {
	err := Wrap(errors.New("boom"))
	assert.True(t, strings.Contains(Stack(err), "TestStackMentionsCaller"))
	assert.Equal(t, "plain", Stack(errors.New("plain")))
}
