package bridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mepuka/recursive-llm-sub001/pkg/rlmerr"
)

func TestResolveDeliversValueOnce(t *testing.T) {
	s := New()

	var got any
	resolved := 0
	s.Register("req-1", Consumer{
		Resolve: func(v any) { got = v; resolved++ },
		Reject:  func(err error) { t.Fatal("Reject must not be called") },
	})

	ok := s.Resolve("req-1", "hello")
	require.True(t, ok)
	assert.Equal(t, "hello", got)
	assert.Equal(t, 1, resolved)

	// idempotent: a second Resolve for the same id is a no-op
	ok = s.Resolve("req-1", "again")
	assert.False(t, ok)
	assert.Equal(t, 1, resolved)
	assert.Equal(t, "hello", got)
}

func TestFailDeliversErrorOnce(t *testing.T) {
	s := New()

	var got error
	s.Register("req-1", Consumer{
		Resolve: func(v any) { t.Fatal("Resolve must not be called") },
		Reject:  func(err error) { got = err },
	})

	boom := assert.AnError
	ok := s.Fail("req-1", boom)
	require.True(t, ok)
	assert.Equal(t, boom, got)

	ok = s.Fail("req-1", boom)
	assert.False(t, ok)
}

func TestRemoveCancelsWithoutResolvingOrRejecting(t *testing.T) {
	s := New()
	s.Register("req-1", Consumer{
		Resolve: func(v any) { t.Fatal("Resolve must not be called") },
		Reject:  func(err error) { t.Fatal("Reject must not be called") },
	})

	s.Remove("req-1")
	assert.Equal(t, 0, s.Len())

	// a resolve/fail after Remove is simply a miss, not a panic
	assert.False(t, s.Resolve("req-1", "x"))
	assert.False(t, s.Fail("req-1", assert.AnError))
}

func TestFailAllDrainsEveryPendingConsumer(t *testing.T) {
	s := New()

	var errs []error
	for _, id := range []string{"a", "b", "c"} {
		id := id
		s.Register(id, Consumer{
			Resolve: func(v any) { t.Fatal("Resolve must not be called") },
			Reject:  func(err error) { errs = append(errs, err) },
		})
	}
	require.Equal(t, 3, s.Len())

	s.FailAll("completion scope closed")

	assert.Equal(t, 0, s.Len())
	require.Len(t, errs, 3)
	for _, err := range errs {
		var sandboxErr *rlmerr.SandboxError
		require.ErrorAs(t, err, &sandboxErr)
		assert.Equal(t, "completion scope closed", sandboxErr.Message)
	}

	// after FailAll, the store is empty: a subsequent FailAll is a no-op
	s.FailAll("second call")
	assert.Equal(t, 0, s.Len())
}

func TestLenReflectsRegisteredMinusResolved(t *testing.T) {
	s := New()
	assert.Equal(t, 0, s.Len())

	s.Register("req-1", Consumer{Resolve: func(any) {}, Reject: func(error) {}})
	s.Register("req-2", Consumer{Resolve: func(any) {}, Reject: func(error) {}})
	assert.Equal(t, 2, s.Len())

	s.Resolve("req-1", nil)
	assert.Equal(t, 1, s.Len())
}
