package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyPartialUpdate_NaNPreservesSlot(t *testing.T) {
	current := []string{"a", "b", "c"}
	update := []string{NaNSentinel, "x", NaNSentinel}

	got := ApplyPartialUpdate(current, update)

	assert.Equal(t, []string{"a", "x", "c"}, got)
}

func TestApplyPartialUpdate_PreservesLengthOnShorterUpdate(t *testing.T) {
	current := []string{"a", "b", "c", "d"}
	update := []string{NaNSentinel, "y"}

	got := ApplyPartialUpdate(current, update)

	require.Len(t, got, 4)
	assert.Equal(t, []string{"a", "y", "c", "d"}, got)
}

func TestApplyPartialUpdate_AllNaNIsNoOp(t *testing.T) {
	current := []string{"1", "2"}
	update := []string{NaNSentinel, NaNSentinel}

	got := ApplyPartialUpdate(current, update)

	assert.Equal(t, current, got)
}

func TestStore_UpdateExperimentParameter(t *testing.T) {
	store := NewStore(Config{
		ExperimentalParams: []ExperimentParameter{
			{Name: "stir", Value: []string{"8", "8", "8"}, Recurring: true, FieldsOut: 4, FieldsIn: 2},
		},
	})

	err := store.UpdateExperimentParameter("stir", []string{NaNSentinel, "5", NaNSentinel})
	require.NoError(t, err)

	p, ok := store.ExperimentParameterSnapshot("stir")
	require.True(t, ok)
	assert.Equal(t, []string{"8", "5", "8"}, p.Value)
}

func TestStore_UpdateExperimentParameter_UnknownName(t *testing.T) {
	store := NewStore(Config{})
	err := store.UpdateExperimentParameter("nonexistent", []string{"1"})
	require.ErrorIs(t, err, ErrUnknownParam)
}

func TestParamSet_PreservesConfiguredOrder(t *testing.T) {
	ps := NewParamSet([]ExperimentParameter{
		{Name: "z"}, {Name: "a"}, {Name: "m"},
	})

	assert.Equal(t, []string{"z", "a", "m"}, ps.Names())
}

func TestParamSet_CloneIsIndependent(t *testing.T) {
	ps := NewParamSet([]ExperimentParameter{{Name: "p", Value: []string{"1"}}})
	clone := ps.Clone()

	clone.Set(ExperimentParameter{Name: "p", Value: []string{"2"}})

	p, _ := ps.Get("p")
	assert.Equal(t, []string{"1"}, p.Value)
}
