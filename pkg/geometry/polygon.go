package geometry

import "math"

// PolygonArea returns the unsigned area enclosed by a closed polygon using the
// shoelace formula. Polygons with fewer than 3 vertices have zero area.
func PolygonArea(polygon []Point2D) float64 {
	if len(polygon) < 3 {
		return 0
	}

	var sum float64
	n := len(polygon)
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		sum += polygon[i].X*polygon[j].Y - polygon[j].X*polygon[i].Y
	}
	return math.Abs(sum) / 2
}

// Perimeter returns the length of the closed polyline through the points,
// including the closing segment from the last point back to the first.
func Perimeter(polygon []Point2D) float64 {
	if len(polygon) < 2 {
		return 0
	}

	total := PathLength(polygon)
	total += polygon[len(polygon)-1].Distance(polygon[0])
	return total
}

// PathLength calculates the total length of an open path.
func PathLength(points []Point2D) float64 {
	if len(points) < 2 {
		return 0
	}

	var total float64
	for i := 1; i < len(points); i++ {
		total += points[i].Distance(points[i-1])
	}
	return total
}

// Simplify reduces the number of vertices using the Douglas-Peucker algorithm.
func Simplify(path []Point2D, epsilon float64) []Point2D {
	if len(path) <= 2 || epsilon <= 0 {
		return path
	}

	// Find point with maximum distance from line between first and last points
	dmax := 0.0
	index := 0
	end := len(path) - 1

	for i := 1; i < end; i++ {
		d := perpendicularDistance(path[i], path[0], path[end])
		if d > dmax {
			dmax = d
			index = i
		}
	}

	if dmax > epsilon {
		left := Simplify(path[:index+1], epsilon)
		right := Simplify(path[index:], epsilon)

		// Avoid duplicating the split point
		result := make([]Point2D, 0, len(left)+len(right)-1)
		result = append(result, left[:len(left)-1]...)
		result = append(result, right...)
		return result
	}

	return []Point2D{path[0], path[end]}
}

// SimplifyClosed simplifies a closed contour. The contour is split at the
// vertex farthest from the first point so both halves keep their anchors.
func SimplifyClosed(polygon []Point2D, epsilon float64) []Point2D {
	if len(polygon) <= 3 || epsilon <= 0 {
		return polygon
	}

	far, dmax := 0, 0.0
	for i := 1; i < len(polygon); i++ {
		if d := polygon[i].Distance(polygon[0]); d > dmax {
			dmax = d
			far = i
		}
	}
	if far == 0 {
		return []Point2D{polygon[0]}
	}

	first := Simplify(polygon[:far+1], epsilon)
	loop := append(append([]Point2D{}, polygon[far:]...), polygon[0])
	second := Simplify(loop, epsilon)

	result := make([]Point2D, 0, len(first)+len(second))
	result = append(result, first...)
	result = append(result, second[1:len(second)-1]...)
	return result
}

// perpendicularDistance calculates the perpendicular distance from point p to line a-b.
func perpendicularDistance(p, a, b Point2D) float64 {
	dx := b.X - a.X
	dy := b.Y - a.Y

	if dx == 0 && dy == 0 {
		return p.Distance(a)
	}

	num := math.Abs(dy*p.X - dx*p.Y + b.X*a.Y - b.Y*a.X)
	den := math.Sqrt(dx*dx + dy*dy)
	return num / den
}
