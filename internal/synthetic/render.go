package synthetic

import "math"

// Sky and road base colours per weather preset index, BGRA.
var (
	skyClear  = [4]byte{235, 206, 135, 255}
	skyRain   = [4]byte{150, 140, 130, 255}
	roadColor = [4]byte{70, 70, 70, 255}
	grassTone = [4]byte{60, 140, 70, 255}
	lineColor = [4]byte{230, 230, 230, 255}
)

// render draws a road vanishing at the horizon, seen from a camera yawed by
// yaw degrees. Lane dashes scroll with the travelled distance x.
func render(w, h int, yaw, x float64, weather int) []byte {
	raw := make([]byte, w*h*4)
	horizon := h / 2
	sky := skyClear
	if weather >= 2 {
		sky = skyRain
	}

	// The road centre shifts sideways as the camera turns away from it.
	centre := float64(w)/2 - yaw/90*float64(w)
	row := make([]byte, w*4)

	for y := 0; y < h; y++ {
		if y < horizon {
			shade := byte(y * 40 / max(horizon, 1))
			fillRow(row, [4]byte{sky[0] - shade/2, sky[1] - shade/2, sky[2], 255}, 0, w)
			copy(raw[y*w*4:], row)
			continue
		}

		depth := float64(y-horizon+1) / float64(h-horizon)
		half := depth * float64(w) * 0.6
		left := int(math.Max(0, centre-half))
		right := int(math.Min(float64(w), centre+half))

		fillRow(row, grassTone, 0, w)
		if left < right {
			fillRow(row, roadColor, left, right)
		}

		// Dashes every 6 m, 3 m long, perspective compressed.
		if math.Mod(x+1/depth*4, 6) < 3 {
			mark := int(math.Max(1, depth*float64(w)*0.01))
			c := int(centre)
			fillRow(row, lineColor, max(0, c-mark), min(w, c+mark))
		}
		copy(raw[y*w*4:], row)
	}
	return raw
}

func fillRow(row []byte, c [4]byte, from, to int) {
	for i := from; i < to; i++ {
		copy(row[i*4:i*4+4], c[:])
	}
}
