package pose

// rowHeader is the number of leading values per cache row: x1, y1, x2, y2, conf.
const rowHeader = 5

// Stride returns the row width for k keypoints (box, confidence and an
// x, y, score triple per keypoint).
func Stride(k int) int {
	return rowHeader + 3*k
}

// DecodeStats describes what Decode did with a payload.
type DecodeStats struct {
	Stride  int
	Rows    int
	Dropped int // trailing values that did not form a complete row
}

// Decode reinterprets a flat cache payload as rows of Stride(k) values. A
// payload whose length is not a multiple of the stride is truncated to the
// largest whole number of rows; the tail is reported in DecodeStats.Dropped.
// k <= 0 yields no entries. Coordinates are returned in tensor space.
func Decode(data []float32, k int) ([]Entry, DecodeStats) {
	if k <= 0 {
		return nil, DecodeStats{Stride: Stride(k), Dropped: len(data)}
	}
	stride := Stride(k)
	rows := len(data) / stride
	stats := DecodeStats{Stride: stride, Rows: rows, Dropped: len(data) - rows*stride}
	if rows == 0 {
		return nil, stats
	}

	entries := make([]Entry, rows)
	kps := make([]Keypoint, rows*k)
	for i := 0; i < rows; i++ {
		row := data[i*stride : (i+1)*stride]
		e := &entries[i]
		e.Box = Box{
			X1: float64(row[0]),
			Y1: float64(row[1]),
			X2: float64(row[2]),
			Y2: float64(row[3]),
		}
		e.Confidence = float64(row[4])
		e.Keypoints = kps[i*k : (i+1)*k : (i+1)*k]
		for j := 0; j < k; j++ {
			base := rowHeader + 3*j
			e.Keypoints[j] = Keypoint{
				X:     float64(row[base]),
				Y:     float64(row[base+1]),
				Score: float64(row[base+2]),
			}
		}
	}
	return entries, stats
}
