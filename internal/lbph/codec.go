package lbph

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/klauspost/compress/zstd"
)

const (
	magic          = "LBPH"
	formatVersion  = uint16(2)
	maxRecords     = 1 << 20
	maxHistogramSz = 1 << 24
)

type header struct {
	Version   uint16
	Radius    uint32
	Neighbors uint32
	GridX     uint32
	GridY     uint32
	Records   uint32
}

// Encode serializes the model into a zstd compressed binary artifact.
func Encode(m *Model) ([]byte, error) {
	if m == nil {
		return nil, errors.New("lbph: encode nil model")
	}

	var raw bytes.Buffer
	w := bufio.NewWriter(&raw)
	if _, err := w.WriteString(magic); err != nil {
		return nil, err
	}
	h := header{
		Version:   formatVersion,
		Radius:    uint32(m.params.Radius),
		Neighbors: uint32(m.params.Neighbors),
		GridX:     uint32(m.params.GridX),
		GridY:     uint32(m.params.GridY),
		Records:   uint32(len(m.signatures)),
	}
	if err := binary.Write(w, binary.LittleEndian, h); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	for i, sig := range m.signatures {
		if err := binary.Write(w, binary.LittleEndian, int32(m.labels[i])); err != nil {
			return nil, fmt.Errorf("write label %d: %w", i, err)
		}
		if err := binary.Write(w, binary.LittleEndian, uint32(len(sig))); err != nil {
			return nil, fmt.Errorf("write length %d: %w", i, err)
		}
		if err := binary.Write(w, binary.LittleEndian, sig); err != nil {
			return nil, fmt.Errorf("write histogram %d: %w", i, err)
		}
	}
	ids := make([]int, 0, len(m.digests))
	for id := range m.digests {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	if err := binary.Write(w, binary.LittleEndian, uint32(len(ids))); err != nil {
		return nil, fmt.Errorf("write digest count: %w", err)
	}
	for _, id := range ids {
		if err := binary.Write(w, binary.LittleEndian, int32(id)); err != nil {
			return nil, fmt.Errorf("write digest id: %w", err)
		}
		if err := binary.Write(w, binary.LittleEndian, m.digests[id]); err != nil {
			return nil, fmt.Errorf("write digest %d: %w", id, err)
		}
	}
	if err := w.Flush(); err != nil {
		return nil, err
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	defer enc.Close()
	return enc.EncodeAll(raw.Bytes(), nil), nil
}

// Decode parses an artifact produced by Encode.
func Decode(data []byte) (*Model, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	defer dec.Close()

	raw, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress artifact: %w", err)
	}
	r := bytes.NewReader(raw)

	mg := make([]byte, len(magic))
	if _, err := io.ReadFull(r, mg); err != nil || string(mg) != magic {
		return nil, errors.New("lbph: not a model artifact")
	}
	var h header
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if h.Version != formatVersion {
		return nil, fmt.Errorf("lbph: unsupported artifact version %d", h.Version)
	}
	if h.Records > maxRecords {
		return nil, fmt.Errorf("lbph: artifact claims %d records", h.Records)
	}

	m := &Model{
		params: Params{
			Radius:    int(h.Radius),
			Neighbors: int(h.Neighbors),
			GridX:     int(h.GridX),
			GridY:     int(h.GridY),
		},
		labels:     make([]int, 0, h.Records),
		signatures: make([][]float32, 0, h.Records),
		digests:    make(map[int]uint64),
	}
	if err := m.params.validate(); err != nil {
		return nil, err
	}
	want := m.params.SignatureLen()

	for i := uint32(0); i < h.Records; i++ {
		var label int32
		var n uint32
		if err := binary.Read(r, binary.LittleEndian, &label); err != nil {
			return nil, fmt.Errorf("read label %d: %w", i, err)
		}
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return nil, fmt.Errorf("read length %d: %w", i, err)
		}
		if n > maxHistogramSz || int(n) != want {
			return nil, fmt.Errorf("lbph: record %d has %d bins, want %d", i, n, want)
		}
		sig := make([]float32, n)
		if err := binary.Read(r, binary.LittleEndian, sig); err != nil {
			return nil, fmt.Errorf("read histogram %d: %w", i, err)
		}
		m.labels = append(m.labels, int(label))
		m.signatures = append(m.signatures, sig)
	}
	var profiles uint32
	if err := binary.Read(r, binary.LittleEndian, &profiles); err != nil {
		return nil, fmt.Errorf("read digest count: %w", err)
	}
	if profiles > h.Records {
		return nil, fmt.Errorf("lbph: artifact claims %d profile digests for %d records", profiles, h.Records)
	}
	for i := uint32(0); i < profiles; i++ {
		var id int32
		var d uint64
		if err := binary.Read(r, binary.LittleEndian, &id); err != nil {
			return nil, fmt.Errorf("read digest id %d: %w", i, err)
		}
		if err := binary.Read(r, binary.LittleEndian, &d); err != nil {
			return nil, fmt.Errorf("read digest %d: %w", i, err)
		}
		m.digests[int(id)] = d
	}
	for _, label := range m.labels {
		if _, ok := m.digests[label]; !ok {
			return nil, fmt.Errorf("lbph: no digest for profile %d", label)
		}
	}
	if len(m.digests) != len(m.ProfileIDs()) {
		return nil, errors.New("lbph: digests for untrained profiles")
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("lbph: %d trailing bytes in artifact", r.Len())
	}
	return m, nil
}
