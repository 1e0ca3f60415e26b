package vision

import (
	"image"

	"github.com/disintegration/imaging"
)

// imageToFloat32CHW resizes img and converts it to normalized CHW float32:
//
//	pixel = (pixel - mean) / std
func imageToFloat32CHW(img image.Image, targetW, targetH int, mean, std [3]float32) []float32 {
	resized := imaging.Resize(img, targetW, targetH, imaging.NearestNeighbor)
	plane := targetW * targetH
	data := make([]float32, 3*plane)

	for y := 0; y < targetH; y++ {
		row := resized.Pix[y*resized.Stride:]
		for x := 0; x < targetW; x++ {
			idx := y*targetW + x
			data[0*plane+idx] = (float32(row[4*x+0]) - mean[0]) / std[0]
			data[1*plane+idx] = (float32(row[4*x+1]) - mean[1]) / std[1]
			data[2*plane+idx] = (float32(row[4*x+2]) - mean[2]) / std[2]
		}
	}
	return data
}
