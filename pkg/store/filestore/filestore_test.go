package filestore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mousybusiness/cognauth/pkg/store"
)

func TestRoundTrip(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Save([]byte(`{"idToken":"abc"}`), "credentials"))

	b, err := s.Load("credentials")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"idToken":"abc"}`), b)

	require.NoError(t, s.Delete("credentials"))

	_, err = s.Load("credentials")
	assert.ErrorIs(t, err, store.ErrItemNotFound)
}

func TestLoadMissing(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = s.Load("nothing")
	assert.ErrorIs(t, err, store.ErrItemNotFound)
}

func TestDeleteMissing(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	assert.ErrorIs(t, s.Delete("nothing"), store.ErrItemNotFound)
}

func TestSaveOverwrites(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Save([]byte("first"), "credentials"))
	require.NoError(t, s.Save([]byte("second"), "credentials"))

	b, err := s.Load("credentials")
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), b)
}

func TestNewRequiresDir(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
}
