package environment

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrbackAddRemove(t *testing.T) {
	var r ErrbackRegistry
	h := r.Add(func(error) {})
	assert.Equal(t, 1, r.Len())

	r.Remove(h)
	assert.Equal(t, 0, r.Len())
}

func TestErrbackRemoveUnknownIsNoOp(t *testing.T) {
	var r ErrbackRegistry
	h := r.Add(func(error) {})

	assert.NotPanics(t, func() { r.Remove(h + 1) })
	assert.Equal(t, 1, r.Len())
}

func TestErrbackFireOrder(t *testing.T) {
	var r ErrbackRegistry
	var order []string
	boom := errors.New("boom")
	r.Add(func(err error) { order = append(order, "a:"+err.Error()) })
	h := r.Add(func(err error) { order = append(order, "b:"+err.Error()) })
	r.Add(func(err error) { order = append(order, "c:"+err.Error()) })

	r.Fire(boom)
	assert.Equal(t, []string{"a:boom", "b:boom", "c:boom"}, order)

	order = nil
	r.Remove(h)
	r.Fire(boom)
	assert.Equal(t, []string{"a:boom", "c:boom"}, order)
}

func TestErrbackFireUsesSnapshot(t *testing.T) {
	var r ErrbackRegistry
	calls := 0
	r.Add(func(error) {
		calls++
		r.Add(func(error) { calls += 10 })
	})

	r.Fire(errors.New("x"))
	assert.Equal(t, 1, calls)
	assert.Equal(t, 2, r.Len())
}
