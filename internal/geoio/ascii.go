package geoio

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/agentic-research/paleodem/api"
	"github.com/agentic-research/paleodem/internal/grid"
)

// asciiNoData is the NODATA_value written for NaN cells.
const asciiNoData = -99999

// readASCII parses an ESRI ASCII grid. Rows are stored north-up, so the
// resulting transform has a negative cell height.
func readASCII(path string) (*grid.Grid, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 1<<20), 1<<26)
	sc.Split(bufio.ScanWords)

	header := map[string]float64{}
	var pending string
	for len(header) < 6 && sc.Scan() {
		tok := sc.Text()
		key := strings.ToLower(tok)
		switch key {
		case "ncols", "nrows", "xllcorner", "yllcorner", "xllcenter", "yllcenter", "cellsize", "nodata_value":
			if !sc.Scan() {
				return nil, api.Invalid("read ascii grid", "%s: truncated header", path)
			}
			v, err := strconv.ParseFloat(sc.Text(), 64)
			if err != nil {
				return nil, api.Invalid("read ascii grid", "%s: bad %s value %q", path, key, sc.Text())
			}
			header[key] = v
		default:
			pending = tok
		}
		if pending != "" {
			break
		}
	}

	cols, rows, cell := int(header["ncols"]), int(header["nrows"]), header["cellsize"]
	if cols <= 0 || rows <= 0 || cell <= 0 {
		return nil, api.Invalid("read ascii grid", "%s: missing ncols, nrows or cellsize", path)
	}
	x0, y0 := header["xllcorner"], header["yllcorner"]
	if v, ok := header["xllcenter"]; ok {
		x0 = v - cell/2
	}
	if v, ok := header["yllcenter"]; ok {
		y0 = v - cell/2
	}
	gt := grid.GeoTransform{x0, cell, 0, y0 + float64(rows)*cell, 0, -cell}
	g := grid.New(rows, cols, gt, "")

	next := func() (string, bool) {
		if pending != "" {
			tok := pending
			pending = ""
			return tok, true
		}
		if !sc.Scan() {
			return "", false
		}
		return sc.Text(), true
	}
	for i := range g.Data {
		tok, ok := next()
		if !ok {
			return nil, api.Invalid("read ascii grid", "%s: expected %d values, got %d", path, len(g.Data), i)
		}
		v, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return nil, api.Invalid("read ascii grid", "%s: bad value %q", path, tok)
		}
		g.Data[i] = v
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if nd, ok := header["nodata_value"]; ok {
		g.ReplaceNoData(nd)
	}
	return g, nil
}

// writeASCII writes g as an ESRI ASCII grid. Only square cells can be
// represented; rows are emitted north-up regardless of the source order.
func writeASCII(path string, g *grid.Grid) error {
	dx, dy := g.Transform[1], g.Transform[5]
	if math.Abs(math.Abs(dx)-math.Abs(dy)) > 1e-9*math.Abs(dx) {
		return api.Invalid("write ascii grid", "cells are not square (%g x %g)", dx, dy)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	w := bufio.NewWriter(f)

	cell := math.Abs(dx)
	yll := g.Transform[3]
	if dy < 0 {
		yll += float64(g.Rows) * dy
	}
	fmt.Fprintf(w, "ncols %d\nnrows %d\nxllcorner %s\nyllcorner %s\ncellsize %s\nNODATA_value %d\n",
		g.Cols, g.Rows, ftoa(g.Transform[0]), ftoa(yll), ftoa(cell), asciiNoData)

	for i := 0; i < g.Rows; i++ {
		row := i
		if dy > 0 {
			row = g.Rows - 1 - i
		}
		for c := 0; c < g.Cols; c++ {
			if c > 0 {
				_ = w.WriteByte(' ')
			}
			v := g.At(row, c)
			if grid.IsNoData(v) {
				_, _ = w.WriteString(strconv.Itoa(asciiNoData))
			} else {
				_, _ = w.WriteString(ftoa(v))
			}
		}
		_ = w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

func ftoa(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
