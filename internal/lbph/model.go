package lbph

import (
	"encoding/binary"
	"fmt"
	"image"
	"math"
	"sort"

	"github.com/cespare/xxhash/v2"

	"github.com/your-org/faceid/internal/faceerr"
)

// Model is an immutable trained set of (signature, profile id) pairs.
// It is safe for concurrent use.
type Model struct {
	params     Params
	labels     []int
	signatures [][]float32
	// digests holds the Digest of each profile's training samples.
	digests map[int]uint64
}

// Train builds a model over every sample of every profile. Profiles are
// visited in ascending id order and samples in their given order, so the
// same input always yields the same model.
func Train(samples map[int][]*image.Gray, p Params) (*Model, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	ids := make([]int, 0, len(samples))
	for id, faces := range samples {
		if len(faces) > 0 {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, faceerr.ErrNoTrainingData
	}
	sort.Ints(ids)

	m := &Model{params: p, digests: make(map[int]uint64, len(ids))}
	for _, id := range ids {
		m.digests[id] = Digest(samples[id])
		for i, face := range samples[id] {
			sig, err := Signature(face, p)
			if err != nil {
				return nil, fmt.Errorf("signature for profile %d sample %d: %w", id, i+1, err)
			}
			m.labels = append(m.labels, id)
			m.signatures = append(m.signatures, sig)
		}
	}
	return m, nil
}

// Classify returns the profile id of the nearest stored signature and the
// chi-square distance to it. Lower distance means more similar.
func (m *Model) Classify(probe *image.Gray) (int, float64, error) {
	if m == nil || len(m.signatures) == 0 {
		return 0, 0, faceerr.ErrModelNotTrained
	}
	sig, err := Signature(probe, m.params)
	if err != nil {
		return 0, 0, fmt.Errorf("probe signature: %w", err)
	}

	best, bestDist := -1, math.MaxFloat64
	for i, s := range m.signatures {
		if d := ChiSquare(s, sig); d < bestDist {
			best, bestDist = i, d
		}
	}
	return m.labels[best], bestDist, nil
}

// Params returns the parameters the model was trained with.
func (m *Model) Params() Params {
	return m.params
}

// Len is the number of stored signatures.
func (m *Model) Len() int {
	if m == nil {
		return 0
	}
	return len(m.signatures)
}

// Fingerprint maps every trained profile id to its number of samples.
func (m *Model) Fingerprint() map[int]int {
	fp := make(map[int]int)
	if m == nil {
		return fp
	}
	for _, id := range m.labels {
		fp[id]++
	}
	return fp
}

// ProfileIDs returns the distinct trained profile ids in ascending order.
func (m *Model) ProfileIDs() []int {
	fp := m.Fingerprint()
	ids := make([]int, 0, len(fp))
	for id := range fp {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Without returns a model with every signature of profile id removed, or
// nil if nothing would remain. The receiver is not modified.
func (m *Model) Without(id int) *Model {
	if m == nil {
		return nil
	}
	out := &Model{params: m.params, digests: make(map[int]uint64, len(m.digests))}
	for pid, d := range m.digests {
		if pid != id {
			out.digests[pid] = d
		}
	}
	for i, label := range m.labels {
		if label != id {
			out.labels = append(out.labels, label)
			out.signatures = append(out.signatures, m.signatures[i])
		}
	}
	if len(out.labels) == 0 {
		return nil
	}
	return out
}

// Digests maps every trained profile id to the Digest of the samples it
// was trained on.
func (m *Model) Digests() map[int]uint64 {
	out := make(map[int]uint64)
	if m == nil {
		return out
	}
	for id, d := range m.digests {
		out[id] = d
	}
	return out
}

// Digest hashes the size and pixels of faces in order. Two sample sets
// with the same digest train to the same signatures.
func Digest(faces []*image.Gray) uint64 {
	h := xxhash.New()
	var dim [8]byte
	for _, f := range faces {
		b := f.Bounds()
		binary.LittleEndian.PutUint32(dim[:4], uint32(b.Dx()))
		binary.LittleEndian.PutUint32(dim[4:], uint32(b.Dy()))
		_, _ = h.Write(dim[:])
		for y := b.Min.Y; y < b.Max.Y; y++ {
			off := f.PixOffset(b.Min.X, y)
			_, _ = h.Write(f.Pix[off : off+b.Dx()])
		}
	}
	return h.Sum64()
}
