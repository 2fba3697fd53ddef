package h3mapper

import (
	"fmt"

	h3 "github.com/uber/h3-go/v4"

	"github.com/mohammed-shakir/geotiff-overlay/internal/core/model"
)

func (m *Mapper) ToParent(cell string, parentRes int) (string, error) {
	if err := validateRes(parentRes); err != nil {
		return "", err
	}
	var c h3.Cell
	if err := c.UnmarshalText([]byte(cell)); err != nil {
		return "", fmt.Errorf("parse cell: %w", err)
	}

	if !c.IsValid() {
		return "", fmt.Errorf("invalid h3 cell %q", cell)
	}
	curRes := c.Resolution()
	if parentRes > curRes {
		return "", fmt.Errorf("parentRes %d must be <= cell resolution %d", parentRes, curRes)
	}
	if parentRes == curRes {
		return cell, nil
	}

	p, err := c.Parent(parentRes)
	if err != nil {
		return "", fmt.Errorf("h3 parent: %w", err)
	}
	return p.String(), nil
}

// Ancestors returns the cells' parents at every resolution in [minRes, res),
// including the cells themselves, de-duplicated.
func (m *Mapper) Ancestors(cells model.Cells, minRes int) (model.Cells, error) {
	seen := make(map[string]struct{}, len(cells)*2)
	out := make(model.Cells, 0, len(cells)*2)
	add := func(c string) {
		if _, ok := seen[c]; !ok {
			seen[c] = struct{}{}
			out = append(out, c)
		}
	}
	for _, c := range cells {
		add(c)
		var hc h3.Cell
		if err := hc.UnmarshalText([]byte(c)); err != nil {
			return nil, fmt.Errorf("parse cell: %w", err)
		}
		for r := hc.Resolution() - 1; r >= minRes && r >= 0; r-- {
			p, err := m.ToParent(c, r)
			if err != nil {
				return nil, err
			}
			add(p)
		}
	}
	return out, nil
}
