// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package quotamirror

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMirror_ReserveConfirm(t *testing.T) {
	m := New()
	assert.False(t, m.Known())
	assert.Equal(t, 0, m.Display())

	assert.Equal(t, 10, m.Reconcile(10))

	shown, err := m.Reserve("r1", 5)
	require.NoError(t, err)
	assert.Equal(t, 5, shown)
	assert.Equal(t, 1, m.Pending())

	// The server charged 5 as well.
	assert.Equal(t, 5, m.Confirm("r1", 5))
	assert.Equal(t, 0, m.Pending())
}

func TestMirror_ServerValueWins(t *testing.T) {
	m := New()
	m.Reconcile(10)
	_, err := m.Reserve("r1", 5)
	require.NoError(t, err)

	// A privileged request was not charged at all.
	assert.Equal(t, 10, m.Confirm("r1", 10))
}

func TestMirror_OverlappingConfirmsReadLowThenSettle(t *testing.T) {
	m := New()
	m.Reconcile(20)
	_, err := m.Reserve("a", 5)
	require.NoError(t, err)
	_, err = m.Reserve("b", 3)
	require.NoError(t, err)
	assert.Equal(t, 12, m.Display())

	// The server debited both before answering a: 20-5-3.
	assert.Equal(t, 9, m.Confirm("a", 12), "b is counted twice while pending")
	assert.LessOrEqual(t, m.Display(), 12)

	assert.Equal(t, 12, m.Confirm("b", 12))
	assert.Zero(t, m.Pending())
}

func TestMirror_Revert(t *testing.T) {
	m := New()
	m.Reconcile(10)
	_, err := m.Reserve("r1", 5)
	require.NoError(t, err)

	assert.Equal(t, 10, m.Revert("r1"))
	assert.Equal(t, 10, m.Revert("r1"), "reverting twice is harmless")
}

func TestMirror_ReconcileKeepsPending(t *testing.T) {
	m := New()
	m.Reconcile(10)
	_, err := m.Reserve("r1", 3)
	require.NoError(t, err)

	assert.Equal(t, 17, m.Reconcile(20))
	assert.Equal(t, 20, m.Confirm("r1", 20))
}

func TestMirror_NeverBelowZero(t *testing.T) {
	m := New()
	m.Reconcile(4)

	shown, err := m.Reserve("r1", 5)
	require.NoError(t, err)
	assert.Equal(t, 0, shown)
	assert.False(t, m.CanAfford(1))

	assert.Equal(t, 4, m.Revert("r1"))
	assert.True(t, m.CanAfford(4))
}

func TestMirror_ReserveErrors(t *testing.T) {
	m := New()
	m.Reconcile(10)

	_, err := m.Reserve("r1", -1)
	assert.ErrorIs(t, err, ErrNegativeCost)

	_, err = m.Reserve("r1", 2)
	require.NoError(t, err)
	shown, err := m.Reserve("r1", 2)
	assert.ErrorIs(t, err, ErrDuplicateReservation)
	assert.Equal(t, 8, shown, "a rejected duplicate does not subtract again")
}

// TestMirror_DisplayInvariant checks displayed == max(0, authoritative -
// pending) over a random operation sequence.
func TestMirror_DisplayInvariant(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	m := New()
	authoritative := 0
	pending := map[string]int{}

	for i := 0; i < 500; i++ {
		id := fmt.Sprintf("r%d", rng.Intn(10))
		switch rng.Intn(4) {
		case 0:
			authoritative = rng.Intn(30)
			m.Reconcile(authoritative)
		case 1:
			cost := rng.Intn(11)
			if _, err := m.Reserve(id, cost); err == nil {
				pending[id] = cost
			}
		case 2:
			authoritative = rng.Intn(30)
			m.Confirm(id, authoritative)
			delete(pending, id)
		case 3:
			m.Revert(id)
			delete(pending, id)
		}

		want := authoritative
		for _, c := range pending {
			want -= c
		}
		if want < 0 {
			want = 0
		}
		require.Equal(t, want, m.Display(), "step %d", i)
	}
}

func TestMirror_Concurrent(t *testing.T) {
	m := New()
	m.Reconcile(1000)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("r%d", i)
			_, _ = m.Reserve(id, 1)
			if i%2 == 0 {
				m.Revert(id)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 25, m.Pending())
	assert.Equal(t, 975, m.Display())
}
