// Package layers holds the overlay catalog: named raster layers with their
// CRS settings, the CRS definitions they reference and the map view settings.
package layers

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/spf13/viper"

	"github.com/mohammed-shakir/geotiff-overlay/internal/crs"
	"github.com/mohammed-shakir/geotiff-overlay/internal/overlay"
)

// Layer is one named overlay. Opacity is a pointer so an explicit 0 survives
// decoding; nil means overlay.DefaultOpacity.
type Layer struct {
	Name            string   `mapstructure:"name" json:"name"`
	Title           string   `mapstructure:"title" json:"title,omitempty"`
	Source          string   `mapstructure:"source" json:"source"`
	SourceCRS       string   `mapstructure:"source_crs" json:"source_crs"`
	DisplayCRS      string   `mapstructure:"display_crs" json:"display_crs"`
	OffsetX         float64  `mapstructure:"offset_x" json:"offset_x"`
	OffsetY         float64  `mapstructure:"offset_y" json:"offset_y"`
	Opacity         *float64 `mapstructure:"opacity" json:"opacity,omitempty"`
	SkipExtentCheck bool     `mapstructure:"skip_extent_check" json:"skip_extent_check,omitempty"`
}

// Options returns the presenter options for the layer.
func (l Layer) Options() overlay.Options {
	o := overlay.DefaultOptions()
	if l.SourceCRS != "" {
		o.SourceCRS = l.SourceCRS
	}
	if l.DisplayCRS != "" {
		o.DisplayCRS = l.DisplayCRS
	}
	o.Offset = overlay.Offset{DX: l.OffsetX, DY: l.OffsetY}
	if l.Opacity != nil {
		o.Opacity = *l.Opacity
	}
	o.SkipExtentCheck = l.SkipExtentCheck
	return o
}

// CRSEntry names a proj definition for use as a layer source_crs.
type CRSEntry struct {
	Name string `mapstructure:"name"`
	Proj string `mapstructure:"proj"`
}

// View configures the interactive map page.
type View struct {
	// Center is lon, lat in degrees.
	Center      [2]float64 `mapstructure:"center"`
	Zoom        float64    `mapstructure:"zoom"`
	TileURL     string     `mapstructure:"tile_url"`
	Attribution string     `mapstructure:"attribution"`
	Controls    []string   `mapstructure:"controls"`
	// Layers lists overlays drawn on the map, in order; empty means all.
	Layers []string `mapstructure:"layers"`
}

type Catalog struct {
	CRS    []CRSEntry `mapstructure:"crs"`
	Layers []Layer    `mapstructure:"layers"`
	View   View       `mapstructure:"view"`

	byName map[string]int
}

const (
	DefaultTileURL     = "https://tile.openstreetmap.org/{z}/{x}/{y}.png"
	DefaultAttribution = "© OpenStreetMap contributors"
)

// Default is the catalog used when no file is configured: the Valencia raster
// already in Web Mercator, drawn half transparent over OSM.
func Default() *Catalog {
	half := overlay.DefaultOpacity
	c := &Catalog{
		CRS: []CRSEntry{
			{Name: "valencia-cea", Proj: "+proj=cea +lat_ts=38.8 +lon_0=0 +x_0=0 +y_0=0 +datum=WGS84 +units=m +no_defs"},
		},
		Layers: []Layer{{
			Name:       "prueba6",
			Title:      "prueba6.tif",
			Source:     "prueba6.tif",
			SourceCRS:  crs.Identity,
			DisplayCRS: crs.EPSG3857,
			Opacity:    &half,
		}},
		View: View{
			Center:      [2]float64{-0.55, 38.8},
			Zoom:        10.5,
			TileURL:     DefaultTileURL,
			Attribution: DefaultAttribution,
			Controls:    []string{"fullscreen"},
		},
	}
	_ = c.index()
	return c
}

// Load reads a catalog file (yaml, json or toml, by extension).
func Load(path string) (*Catalog, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	c, err := FromViper(v)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return c, nil
}

// FromViper decodes a catalog from an already populated viper instance.
func FromViper(v *viper.Viper) (*Catalog, error) {
	v.SetDefault("view.center", []float64{0, 0})
	v.SetDefault("view.zoom", 2)
	v.SetDefault("view.tile_url", DefaultTileURL)
	v.SetDefault("view.attribution", DefaultAttribution)

	var c Catalog
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks names, CRS definitions and opacity ranges, and builds the
// name index.
func (c *Catalog) Validate() error {
	var errs []error
	seenCRS := map[string]bool{}
	for i, e := range c.CRS {
		name := strings.TrimSpace(e.Name)
		switch {
		case name == "":
			errs = append(errs, fmt.Errorf("crs[%d]: name is required", i))
		case seenCRS[name]:
			errs = append(errs, fmt.Errorf("crs[%d]: duplicate name %q", i, name))
		}
		seenCRS[name] = true
		if _, err := crs.Parse(e.Proj); err != nil {
			errs = append(errs, fmt.Errorf("crs %q: %w", name, err))
		}
	}
	table := c.Table()
	for i, l := range c.Layers {
		if strings.TrimSpace(l.Name) == "" {
			errs = append(errs, fmt.Errorf("layers[%d]: name is required", i))
			continue
		}
		if strings.TrimSpace(l.Source) == "" {
			errs = append(errs, fmt.Errorf("layer %q: source is required", l.Name))
		}
		if l.Opacity != nil && (math.IsNaN(*l.Opacity) || *l.Opacity < 0 || *l.Opacity > 1) {
			errs = append(errs, fmt.Errorf("layer %q: opacity %v outside [0,1]", l.Name, *l.Opacity))
		}
		for _, name := range []string{l.SourceCRS, l.DisplayCRS} {
			if name == "" || name == crs.Identity || name == crs.Auto {
				continue
			}
			if _, err := table.Lookup(name); err != nil {
				errs = append(errs, fmt.Errorf("layer %q: %w", l.Name, err))
			}
		}
	}
	if err := c.index(); err != nil {
		errs = append(errs, err)
	}
	for _, name := range c.View.Layers {
		if _, ok := c.byName[name]; !ok {
			errs = append(errs, fmt.Errorf("view: unknown layer %q", name))
		}
	}
	return errors.Join(errs...)
}

func (c *Catalog) index() error {
	c.byName = make(map[string]int, len(c.Layers))
	for i, l := range c.Layers {
		if _, dup := c.byName[l.Name]; dup {
			return fmt.Errorf("duplicate layer %q", l.Name)
		}
		c.byName[l.Name] = i
	}
	return nil
}

// Table returns the CRS definitions as a lookup table for the presenter.
func (c *Catalog) Table() crs.Table {
	t := make(crs.Table, len(c.CRS))
	for _, e := range c.CRS {
		t[strings.TrimSpace(e.Name)] = e.Proj
	}
	return t
}

func (c *Catalog) Get(name string) (Layer, bool) {
	i, ok := c.byName[name]
	if !ok {
		return Layer{}, false
	}
	return c.Layers[i], true
}

// Names returns the layer names, sorted.
func (c *Catalog) Names() []string {
	out := make([]string, 0, len(c.Layers))
	for _, l := range c.Layers {
		out = append(out, l.Name)
	}
	sort.Strings(out)
	return out
}

// BySource returns every layer rendered from source.
func (c *Catalog) BySource(source string) []Layer {
	var out []Layer
	for _, l := range c.Layers {
		if l.Source == source {
			out = append(out, l)
		}
	}
	return out
}

// ViewLayers returns the layers drawn on the map page, in order.
func (c *Catalog) ViewLayers() []Layer {
	if len(c.View.Layers) == 0 {
		return append([]Layer(nil), c.Layers...)
	}
	out := make([]Layer, 0, len(c.View.Layers))
	for _, name := range c.View.Layers {
		if l, ok := c.Get(name); ok {
			out = append(out, l)
		}
	}
	return out
}
