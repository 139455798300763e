package model

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// cellMatrix builds the unit cell from its rows; empty rows give the identity.
func cellMatrix(rows [][]float64) (*mat.Dense, error) {
	if len(rows) == 0 {
		return mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1}), nil
	}
	if len(rows) != 3 {
		return nil, fmt.Errorf("cell_size must have 3 rows, got %d", len(rows))
	}
	data := make([]float64, 0, 9)
	for i, row := range rows {
		if len(row) != 3 {
			return nil, fmt.Errorf("cell_size row %d must have 3 entries, got %d", i, len(row))
		}
		for _, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, errors.New("cell_size entries must be finite")
			}
		}
		data = append(data, row...)
	}
	cell := mat.NewDense(3, 3, data)
	if det := mat.Det(cell); math.Abs(det) < 1e-12 {
		return nil, fmt.Errorf("cell_size is singular (det=%g)", det)
	}
	return cell, nil
}

// CellVolume is the volume spanned by the lattice vectors.
func (m *Model) CellVolume() float64 {
	return math.Abs(mat.Det(m.cell))
}

// CartesianPosition is the position of the site with the given slot inside
// the unit cell displaced by cell, i.e. (pos + cell) multiplied by the lattice
// vectors.
func (m *Model) CartesianPosition(slot int, cell [3]int) [3]float64 {
	st := m.SiteType(slot)
	frac := mat.NewVecDense(3, []float64{
		st.Pos[0] + float64(cell[0]),
		st.Pos[1] + float64(cell[1]),
		st.Pos[2] + float64(cell[2]),
	})
	var out mat.VecDense
	out.MulVec(m.cell.T(), frac)
	return [3]float64{out.AtVec(0), out.AtVec(1), out.AtVec(2)}
}
