package session

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ssogate/cmd/identity/ids"
)

func TestSigner_RoundTrip(t *testing.T) {
	t.Parallel()

	s, err := NewSigner("session-secret")
	require.NoError(t, err)

	id := ids.MustULID(time.Now())
	v := s.Sign(id)
	require.True(t, strings.HasPrefix(v, id+"."))

	got, ok := s.Verify(v)
	require.True(t, ok)
	assert.Equal(t, id, got)
}

func TestSigner_RejectsForgeries(t *testing.T) {
	t.Parallel()

	a, err := NewSigner("secret-a")
	require.NoError(t, err)
	b, err := NewSigner("secret-b")
	require.NoError(t, err)

	id := ids.MustULID(time.Now())
	good := a.Sign(id)
	other := ids.MustULID(time.Now().Add(time.Second))
	_, sig, _ := strings.Cut(good, ".")

	cases := map[string]string{
		"empty":         "",
		"no signature":  id,
		"empty sig":     id + ".",
		"not a ulid":    "session-1." + sig,
		"swapped id":    other + "." + sig,
		"bad base64":    id + ".!!!",
		"truncated sig": good[:len(good)-4],
	}
	for name, v := range cases {
		_, ok := a.Verify(v)
		assert.False(t, ok, name)
	}

	_, ok := b.Verify(good)
	assert.False(t, ok, "other key must not verify")
}

func TestNewSigner_EmptySecret(t *testing.T) {
	t.Parallel()

	_, err := NewSigner("  ")
	assert.ErrorIs(t, err, ErrConfig)
}

func TestSigner_StorageKey(t *testing.T) {
	t.Parallel()

	s, err := NewSigner("session-secret")
	require.NoError(t, err)
	other, err := NewSigner("other-secret")
	require.NoError(t, err)

	id := ids.MustULID(time.Now())
	k := s.StorageKey(id)
	assert.Len(t, k, 64)
	assert.NotContains(t, k, id)
	assert.Equal(t, k, s.StorageKey(id))
	assert.NotEqual(t, k, other.StorageKey(id))

	_, sig, _ := strings.Cut(s.Sign(id), ".")
	assert.NotContains(t, k, sig, "storage key must not reuse the cookie signature")
}

func TestSigner_UserID(t *testing.T) {
	t.Parallel()

	a, err := NewSigner("secret-a")
	require.NoError(t, err)
	b, err := NewSigner("secret-b")
	require.NoError(t, err)

	for _, id := range []string{"u1", "alice@example.com", "org.team.user"} {
		v := a.SignUserID(id)
		got, ok := a.VerifyUserID(v)
		require.True(t, ok, id)
		assert.Equal(t, id, got)

		_, ok = b.VerifyUserID(v)
		assert.False(t, ok, "other secret accepted %q", id)
	}

	good := a.SignUserID("attacker")
	_, sig, _ := strings.Cut(good, ".")
	for _, v := range []string{
		"",
		"victim",
		"victim.",
		"." + sig,
		"victim." + sig,
		"victim.!!!",
		a.Sign(ids.MustULID(time.Now())),
	} {
		_, ok := a.VerifyUserID(v)
		assert.False(t, ok, "accepted %q", v)
	}
}
