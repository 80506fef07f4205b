package contour

import (
	"encoding/csv"
	"io"
	"strconv"
)

// WriteCSV writes the coordinate table with columns polygon_id, x, y. Polygon
// ids follow the order of contours starting at 0.
func WriteCSV(w io.Writer, contours []Contour) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"polygon_id", "x", "y"}); err != nil {
		return err
	}

	for id, c := range contours {
		for _, p := range c.Points {
			record := []string{
				strconv.Itoa(id),
				strconv.FormatFloat(p.X, 'f', -1, 64),
				strconv.FormatFloat(p.Y, 'f', -1, 64),
			}
			if err := cw.Write(record); err != nil {
				return err
			}
		}
	}

	cw.Flush()
	return cw.Error()
}
