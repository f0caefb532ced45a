package scheduler

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"math"

	"github.com/klauspost/compress/zstd"

	"github.com/pathdx/cdst-go/pkg/errors"
	"github.com/pathdx/cdst-go/pkg/problem"
	"github.com/pathdx/cdst-go/pkg/solver"
)

// Store is the key-value interface checkpoints are written through.
type Store interface {
	Put(ctx context.Context, scenarioID string, blob []byte) error
	Get(ctx context.Context, scenarioID string) ([]byte, error)
	Delete(ctx context.Context, scenarioID string) error
}

// Checkpoint blob layout: magic "CDST" + version byte, scenario ID,
// generation, RNG state, then the zstd-compressed population
// (per individual: objective vector, penalty, row-major genes).
var checkpointMagic = []byte("CDST")

const checkpointVersion = byte(1)

var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	zstdDecoder, _ = zstd.NewReader(nil)
)

// Checkpoint is the decoded resume state of a run.
type Checkpoint struct {
	ScenarioID string
	Generation int
	RNGState   []byte
	Population []*solver.Individual
}

// EncodeCheckpoint serializes the population snapshot.
func EncodeCheckpoint(scenarioID string, generation int, rngState []byte, population []*solver.Individual) ([]byte, error) {
	if len(population) == 0 {
		return nil, errors.New(errors.CheckpointFailed, "cannot checkpoint an empty population")
	}

	var buf bytes.Buffer
	buf.Write(checkpointMagic)
	buf.WriteByte(checkpointVersion)

	writeBytes := func(b []byte) {
		var lenBuf [4]byte
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(b)))
		buf.Write(lenBuf[:])
		buf.Write(b)
	}

	writeBytes([]byte(scenarioID))

	var u32 [4]byte
	binary.LittleEndian.PutUint32(u32[:], uint32(generation))
	buf.Write(u32[:])

	writeBytes(rngState)

	genes := len(population[0].Allocation.X)
	binary.LittleEndian.PutUint32(u32[:], uint32(len(population)))
	buf.Write(u32[:])
	binary.LittleEndian.PutUint32(u32[:], uint32(genes))
	buf.Write(u32[:])

	raw := make([]byte, 0, len(population)*(genes*4+(solver.NumObjectives+1)*8))
	var u64 [8]byte
	for _, ind := range population {
		if len(ind.Allocation.X) != genes {
			return nil, errors.New(errors.CheckpointFailed, "population individuals have mismatched gene counts")
		}
		for _, obj := range ind.Objectives {
			binary.LittleEndian.PutUint64(u64[:], math.Float64bits(obj))
			raw = append(raw, u64[:]...)
		}
		binary.LittleEndian.PutUint64(u64[:], math.Float64bits(ind.Penalty))
		raw = append(raw, u64[:]...)
		for _, gene := range ind.Allocation.X {
			binary.LittleEndian.PutUint32(u32[:], uint32(gene))
			raw = append(raw, u32[:]...)
		}
	}

	compressed := zstdEncoder.EncodeAll(raw, nil)
	writeBytes(compressed)

	return buf.Bytes(), nil
}

// DecodeCheckpoint parses a blob back into resume state. The problem
// supplies the tensor dimensions.
func DecodeCheckpoint(p *problem.Problem, blob []byte) (*Checkpoint, error) {
	r := bytes.NewReader(blob)

	magic := make([]byte, len(checkpointMagic))
	if _, err := io.ReadFull(r, magic); err != nil || !bytes.Equal(magic, checkpointMagic) {
		return nil, errors.New(errors.CheckpointFailed, "checkpoint magic mismatch")
	}
	version, err := r.ReadByte()
	if err != nil {
		return nil, errors.Wrap(err, errors.CheckpointFailed, "truncated checkpoint header")
	}
	if version != checkpointVersion {
		return nil, errors.Newf(errors.CheckpointFailed, "unsupported checkpoint version %d", version)
	}

	readBytes := func() ([]byte, error) {
		var lenBuf [4]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			return nil, err
		}
		n := binary.LittleEndian.Uint32(lenBuf[:])
		b := make([]byte, n)
		if n > 0 {
			if _, err := io.ReadFull(r, b); err != nil {
				return nil, err
			}
		}
		return b, nil
	}

	idBytes, err := readBytes()
	if err != nil {
		return nil, errors.Wrap(err, errors.CheckpointFailed, "truncated scenario ID")
	}

	var u32 [4]byte
	if _, err := io.ReadFull(r, u32[:]); err != nil {
		return nil, errors.Wrap(err, errors.CheckpointFailed, "truncated generation counter")
	}
	generation := int(binary.LittleEndian.Uint32(u32[:]))

	rngState, err := readBytes()
	if err != nil {
		return nil, errors.Wrap(err, errors.CheckpointFailed, "truncated RNG state")
	}

	if _, err := io.ReadFull(r, u32[:]); err != nil {
		return nil, errors.Wrap(err, errors.CheckpointFailed, "truncated population header")
	}
	nIndividuals := int(binary.LittleEndian.Uint32(u32[:]))
	if _, err := io.ReadFull(r, u32[:]); err != nil {
		return nil, errors.Wrap(err, errors.CheckpointFailed, "truncated population header")
	}
	genes := int(binary.LittleEndian.Uint32(u32[:]))

	if want := p.NAreas * p.NLabs * p.NTests; genes != want {
		return nil, errors.Newf(errors.CheckpointFailed, "checkpoint genes %d do not match problem shape %d", genes, want)
	}

	compressed, err := readBytes()
	if err != nil {
		return nil, errors.Wrap(err, errors.CheckpointFailed, "truncated population payload")
	}
	raw, err := zstdDecoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.CheckpointFailed, "corrupt population payload")
	}

	stride := (solver.NumObjectives+1)*8 + genes*4
	if len(raw) != nIndividuals*stride {
		return nil, errors.New(errors.CheckpointFailed, "population payload size mismatch")
	}

	population := make([]*solver.Individual, nIndividuals)
	offset := 0
	for i := range population {
		ind := solver.NewIndividual(solver.NewAllocation(p))
		for m := 0; m < solver.NumObjectives; m++ {
			ind.Objectives[m] = math.Float64frombits(binary.LittleEndian.Uint64(raw[offset:]))
			offset += 8
		}
		ind.Penalty = math.Float64frombits(binary.LittleEndian.Uint64(raw[offset:]))
		offset += 8
		for g := 0; g < genes; g++ {
			ind.Allocation.X[g] = int(binary.LittleEndian.Uint32(raw[offset:]))
			offset += 4
		}
		population[i] = ind
	}

	return &Checkpoint{
		ScenarioID: string(idBytes),
		Generation: generation,
		RNGState:   rngState,
		Population: population,
	}, nil
}
