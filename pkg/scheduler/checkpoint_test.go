package scheduler

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pathdx/cdst-go/pkg/errors"
	"github.com/pathdx/cdst-go/pkg/solver"
)

func TestCheckpointRoundTrip(t *testing.T) {
	p := smallProblem()

	population := make([]*solver.Individual, 4)
	for i := range population {
		al := solver.NewAllocation(p)
		al.Set(0, 0, 0, 10+i)
		al.Set(1, 0, 0, 5)
		ind := solver.NewIndividual(al)
		ind.Objectives = [solver.NumObjectives]float64{float64(i), 1, 2, -0.5, -0.25}
		ind.Penalty = float64(i) * 0.5
		population[i] = ind
	}
	rngState := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}

	blob, err := EncodeCheckpoint("scn-1", 150, rngState, population)
	require.NoError(t, err)

	// Spec'd header: magic then version byte
	assert.Equal(t, []byte("CDST\x01"), blob[:5])

	cp, err := DecodeCheckpoint(p, blob)
	require.NoError(t, err)

	assert.Equal(t, "scn-1", cp.ScenarioID)
	assert.Equal(t, 150, cp.Generation)
	assert.Equal(t, rngState, cp.RNGState)
	require.Len(t, cp.Population, 4)

	for i, ind := range cp.Population {
		assert.True(t, population[i].Allocation.Equal(ind.Allocation), "genes differ at %d", i)
		assert.Equal(t, population[i].Objectives, ind.Objectives)
		assert.Equal(t, population[i].Penalty, ind.Penalty)
	}
}

func TestCheckpointRejectsGarbage(t *testing.T) {
	p := smallProblem()

	tests := []struct {
		name string
		blob []byte
	}{
		{"empty", nil},
		{"bad magic", []byte("NOPE\x01rest")},
		{"bad version", []byte("CDST\x09rest")},
		{"truncated", []byte("CDST\x01\x04\x00\x00")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeCheckpoint(p, tt.blob)
			require.Error(t, err)
			assert.Equal(t, errors.CheckpointFailed, errors.CodeOf(err))
		})
	}
}

func TestCheckpointShapeMismatch(t *testing.T) {
	p := smallProblem()
	al := solver.NewAllocation(p)
	blob, err := EncodeCheckpoint("scn-2", 1, []byte{1}, []*solver.Individual{solver.NewIndividual(al)})
	require.NoError(t, err)

	other := slowProblem()
	_, err = DecodeCheckpoint(other, blob)
	require.Error(t, err)
	assert.Equal(t, errors.CheckpointFailed, errors.CodeOf(err))
}

func TestCheckpointEmptyPopulation(t *testing.T) {
	_, err := EncodeCheckpoint("scn-3", 1, nil, nil)
	require.Error(t, err)
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	blob, err := store.Get(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, blob)

	require.NoError(t, store.Put(ctx, "scn", []byte{1, 2, 3}))
	blob, err = store.Get(ctx, "scn")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, blob)

	require.NoError(t, store.Delete(ctx, "scn"))
	blob, err = store.Get(ctx, "scn")
	require.NoError(t, err)
	assert.Nil(t, blob)
}

func TestSQLiteCheckpointStore(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "checkpoints.db"))
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()

	blob, err := store.Get(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, blob)

	require.NoError(t, store.Put(ctx, "scn", []byte("first")))
	require.NoError(t, store.Put(ctx, "scn", []byte("second"))) // overwrite

	blob, err = store.Get(ctx, "scn")
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), blob)

	require.NoError(t, store.Delete(ctx, "scn"))
	blob, err = store.Get(ctx, "scn")
	require.NoError(t, err)
	assert.Nil(t, blob)
}
