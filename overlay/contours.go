package overlay

// Point is one [x, y] pair. Float coordinates keep the wire shape identical
// for traced and hand-edited contours.
type Point [2]float64

// Polygon is an ordered, closed boundary (last point implicitly connects to
// the first).
type Polygon []Point

// ContourSet is the contour artifact for one (volume, slice): an ordered
// list of polygons, serialized to JSON as nested [x, y] arrays.
type ContourSet []Polygon

// moore holds the clockwise 8-neighborhood used for boundary tracing,
// starting from west.
var moore = [8][2]int{
	{-1, 0}, {-1, -1}, {0, -1}, {1, -1},
	{1, 0}, {1, 1}, {0, 1}, {-1, 1},
}

// FindContours traces the external boundary of every 8-connected foreground
// component in m, in scan order. Tracing is Moore-neighbor following with
// Jacob's stopping criterion, so output ordering is fully deterministic for
// a given mask.
func FindContours(m *Mask) ContourSet {
	out := ContourSet{}
	if m == nil || m.W == 0 || m.H == 0 {
		return out
	}

	labeled := make([]bool, len(m.Bits))
	for y := 0; y < m.H; y++ {
		for x := 0; x < m.W; x++ {
			if !m.at(x, y) || labeled[x+y*m.W] {
				continue
			}
			// First unlabeled foreground pixel in scan order is on the
			// component's external boundary.
			out = append(out, traceBoundary(m, x, y))
			flood(m, labeled, x, y)
		}
	}
	return out
}

// traceBoundary walks the external boundary clockwise starting at (sx, sy),
// whose west neighbor is guaranteed background by the scan order.
func traceBoundary(m *Mask, sx, sy int) Polygon {
	poly := Polygon{{float64(sx), float64(sy)}}

	cx, cy := sx, sy
	dir := 0 // entered from the west
	for {
		found := false
		for i := 0; i < 8; i++ {
			d := (dir + i) % 8
			nx, ny := cx+moore[d][0], cy+moore[d][1]
			if m.at(nx, ny) {
				cx, cy = nx, ny
				// back up two steps so the search restarts just past the
				// background pixel we came from
				dir = (d + 6) % 8
				found = true
				break
			}
		}
		if !found {
			return poly // isolated pixel
		}
		if cx == sx && cy == sy {
			return poly
		}
		poly = append(poly, Point{float64(cx), float64(cy)})
		if len(poly) > 4*len(m.Bits) {
			return poly // safety bound; cannot happen on a well-formed mask
		}
	}
}

// flood marks every pixel of the 8-connected component containing (sx, sy).
func flood(m *Mask, labeled []bool, sx, sy int) {
	stack := [][2]int{{sx, sy}}
	labeled[sx+sy*m.W] = true
	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, d := range moore {
			nx, ny := p[0]+d[0], p[1]+d[1]
			if m.at(nx, ny) && !labeled[nx+ny*m.W] {
				labeled[nx+ny*m.W] = true
				stack = append(stack, [2]int{nx, ny})
			}
		}
	}
}
