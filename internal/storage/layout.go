package storage

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"strconv"
	"strings"
)

const (
	profilePrefix = "user_"
	sampleExt     = ".png"
)

func profileName(id int) string {
	return profilePrefix + strconv.Itoa(id)
}

// parseProfileName returns the id encoded in "user_<id>".
func parseProfileName(name string) (int, bool) {
	if !strings.HasPrefix(name, profilePrefix) {
		return 0, false
	}
	id, err := strconv.Atoi(strings.TrimPrefix(name, profilePrefix))
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func sampleName(index int) string {
	return strconv.Itoa(index) + sampleExt
}

// parseSampleName returns the 1-based sequence number of "<n>.png".
func parseSampleName(name string) (int, bool) {
	if !strings.HasSuffix(name, sampleExt) {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSuffix(name, sampleExt))
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// smallestFreeID returns the smallest positive integer not in used.
func smallestFreeID(used []int) int {
	taken := make(map[int]struct{}, len(used))
	for _, id := range used {
		taken[id] = struct{}{}
	}
	id := 1
	for {
		if _, ok := taken[id]; !ok {
			return id
		}
		id++
	}
}

func encodeSample(face *image.Gray) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, face); err != nil {
		return nil, fmt.Errorf("encode sample: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeSample(data []byte) (*image.Gray, error) {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode sample: %w", err)
	}
	if g, ok := img.(*image.Gray); ok {
		return g, nil
	}
	b := img.Bounds()
	g := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(g, g.Bounds(), img, b.Min, draw.Src)
	return g, nil
}
