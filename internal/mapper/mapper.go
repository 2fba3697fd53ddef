// Package mapper converts between geographic extents and H3 cells.
package mapper

import (
	"github.com/mohammed-shakir/geotiff-overlay/internal/core/model"
)

type Interface interface {
	CellsForBBox(bb model.BBox, res int) (model.Cells, error)
	CellsForPolygon(poly model.Polygon, res int) (model.Cells, error)
	ToParent(cell string, parentRes int) (string, error)
	// Ancestors adds every parent of cells down to minRes.
	Ancestors(cells model.Cells, minRes int) (model.Cells, error)
}
