// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package registry

import (
	"context"
	"sync"
	"testing"

	"github.com/AleutianAI/opbench/services/bench/inputs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echo(_ context.Context, x any, _ inputs.Kwargs) (any, error) { return x, nil }

func TestRegistry_RegisterLookup(t *testing.T) {
	r := New()
	require.NoError(t, r.Register("opbench.ops", "box_blur", "tensor_op", echo))

	op, err := r.Lookup("opbench.ops", "box_blur", "tensor_op")
	require.NoError(t, err)
	out, err := op(context.Background(), 42, nil)
	require.NoError(t, err)
	assert.Equal(t, 42, out)

	assert.True(t, r.HasModule("opbench.ops", "box_blur"))
	assert.False(t, r.HasModule("opbench.ops", "sharpen"))
}

func TestRegistry_Errors(t *testing.T) {
	r := New()
	require.NoError(t, r.Register("p", "m", "op", echo))

	assert.ErrorIs(t, r.Register("p", "m", "op", echo), ErrAlreadyRegistered)
	assert.ErrorIs(t, r.Register("p", "m", "other", nil), ErrNilOperator)
	assert.ErrorIs(t, r.Register("", "m", "op", echo), ErrEmptyName)
	assert.ErrorIs(t, r.Register("p", " ", "op", echo), ErrEmptyName)

	_, err := r.Lookup("p", "missing", "op")
	assert.ErrorIs(t, err, ErrModuleNotFound)
	_, err = r.Lookup("p", "m", "array_op")
	assert.ErrorIs(t, err, ErrOperatorNotFound)
}

func TestRegistry_MustRegisterPanics(t *testing.T) {
	r := New()
	r.MustRegister("p", "m", "op", echo)
	assert.Panics(t, func() { r.MustRegister("p", "m", "op", echo) })
}

func TestRegistry_Listing(t *testing.T) {
	r := New()
	r.MustRegister("p", "zeta", "tensor_op", echo)
	r.MustRegister("p", "alpha", "tensor_op", echo)
	r.MustRegister("p", "alpha", "array_op", echo)

	assert.Equal(t, []string{"p.alpha", "p.zeta"}, r.Modules())
	assert.Equal(t, []string{"array_op", "tensor_op"}, r.Operators("p.alpha"))
	assert.Empty(t, r.Operators("p.none"))
}

func TestRegistry_Concurrent(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = r.Register("p", "m", string(rune('a'+i)), echo)
			_ = r.HasModule("p", "m")
		}(i)
	}
	wg.Wait()
	assert.Len(t, r.Operators("p.m"), 16)
}
