package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mohammed-shakir/geotiff-overlay/internal/engine"
	"github.com/mohammed-shakir/geotiff-overlay/internal/overlay"
)

type renderFlags struct {
	layer, src      string
	crs, displayCRS string
	dx, dy, opacity float64
	skipExtentCheck bool
	out, descriptor string
	world           bool
	fit             string
}

func newRenderCmd(v *viper.Viper) *cobra.Command {
	var rf renderFlags
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render one overlay to a PNG, with its descriptor and world file",
		Example: `  overlayd render --layer prueba6 -o prueba6.png --world
  overlayd render --src https://example.com/a.tif --crs EPSG:3857 --dy -4400 -o a.png --descriptor a.json
  overlayd render --layer prueba6-cea --fit 1280x720`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRender(cmd, v, rf)
		},
	}
	f := cmd.Flags()
	f.StringVar(&rf.layer, "layer", "", "catalog layer name")
	f.StringVar(&rf.src, "src", "", "raster path or URL, instead of --layer")
	f.StringVar(&rf.crs, "crs", "", "source CRS: identity, auto, a catalog name, an EPSG code or a proj string")
	f.StringVar(&rf.displayCRS, "display-crs", "", "display CRS (default EPSG:3857)")
	f.Float64Var(&rf.dx, "dx", 0, "extent offset along x, display units")
	f.Float64Var(&rf.dy, "dy", 0, "extent offset along y, display units")
	f.Float64Var(&rf.opacity, "opacity", overlay.DefaultOpacity, "overlay opacity in [0,1]")
	f.BoolVar(&rf.skipExtentCheck, "skip-extent-check", false, "accept extents outside the display CRS bounds")
	f.StringVarP(&rf.out, "out", "o", "", "PNG output path")
	f.StringVar(&rf.descriptor, "descriptor", "", `JSON descriptor output path; "-" writes to stdout`)
	f.BoolVarP(&rf.world, "world", "w", false, "write a world file next to the PNG")
	f.StringVar(&rf.fit, "fit", "", "print the view that frames the overlay in a WIDTHxHEIGHT pixel map")
	cmd.MarkFlagsMutuallyExclusive("layer", "src")
	cmd.MarkFlagsOneRequired("layer", "src")
	return cmd
}

func runRender(cmd *cobra.Command, v *viper.Viper, rf renderFlags) error {
	if rf.out == "" && rf.descriptor == "" && rf.fit == "" {
		return errors.New("nothing to write: set --out, --descriptor or --fit")
	}
	var vp *overlay.Viewport
	if rf.fit != "" {
		w, h, err := parseSize(rf.fit)
		if err != nil {
			return err
		}
		vp = &overlay.Viewport{Width: w, Height: h}
	}
	if rf.world && rf.out == "" {
		return errors.New("--world needs --out")
	}
	if rf.opacity < 0 || rf.opacity > 1 {
		return fmt.Errorf("opacity %v out of [0,1]", rf.opacity)
	}

	cfg := settings(v)
	// --src comes from whoever runs the command; ADHOC_ALLOW still applies
	cfg.AdHoc.Enabled = true
	log := newLogger(cfg, "render", cmd.ErrOrStderr())
	cat, err := loadCatalog(cfg.CatalogPath)
	if err != nil {
		return err
	}
	eng, err := newEngine(cfg, cat, nil, log)
	if err != nil {
		return err
	}

	req, err := renderRequest(cmd, eng, rf)
	if err != nil {
		return err
	}
	res, err := eng.Render(cmdContext(cmd), req)
	if err != nil {
		return fmt.Errorf("render (%s): %w", engine.ErrorKind(err), err)
	}
	d := res.Descriptor

	if rf.out != "" {
		if err := os.WriteFile(rf.out, d.Image.Data, 0o644); err != nil {
			return fmt.Errorf("write png: %w", err)
		}
		e := overlay.ExtentArray(d.Extent)
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %dx%d %s extent [%f %f %f %f]\n",
			rf.out, d.Width, d.Height, d.DisplayCRS, e[0], e[1], e[2], e[3])
	}
	if rf.world {
		if err := writeWorldFile(cmd.ErrOrStderr(), rf.out, d); err != nil {
			return err
		}
	}
	if rf.descriptor != "" {
		if err := writeDescriptor(cmd.OutOrStdout(), rf.descriptor, d); err != nil {
			return err
		}
	}
	if vp != nil {
		if err := <-overlay.ScheduleFit(cmdContext(cmd), vp, d.Fit, 0); err != nil {
			return fmt.Errorf("fit: %w", err)
		}
		c, res := vp.View()
		fmt.Fprintf(cmd.OutOrStdout(), "fit %dx%d: center [%f %f] resolution %f %s units/px\n",
			vp.Width, vp.Height, c[0], c[1], res, d.DisplayCRS)
	}
	return nil
}

func parseSize(s string) (int, int, error) {
	ws, hs, ok := strings.Cut(strings.ToLower(s), "x")
	w, errW := strconv.Atoi(ws)
	h, errH := strconv.Atoi(hs)
	if !ok || errW != nil || errH != nil || w <= 0 || h <= 0 {
		return 0, 0, fmt.Errorf("--fit %q: want WIDTHxHEIGHT", s)
	}
	return w, h, nil
}

// renderRequest starts from the layer's options, or the defaults for --src,
// and applies only the flags the user set.
func renderRequest(cmd *cobra.Command, eng *engine.Engine, rf renderFlags) (engine.Request, error) {
	req := engine.Request{Source: rf.src, Options: overlay.DefaultOptions()}
	if rf.layer != "" {
		var err error
		if req, err = eng.LayerRequest(rf.layer); err != nil {
			return engine.Request{}, err
		}
	}
	f := cmd.Flags()
	if f.Changed("crs") {
		req.Options.SourceCRS = rf.crs
	}
	if f.Changed("display-crs") {
		req.Options.DisplayCRS = rf.displayCRS
	}
	if f.Changed("dx") {
		req.Options.Offset.DX = rf.dx
	}
	if f.Changed("dy") {
		req.Options.Offset.DY = rf.dy
	}
	if f.Changed("opacity") {
		req.Options.Opacity = rf.opacity
	}
	if f.Changed("skip-extent-check") {
		req.Options.SkipExtentCheck = rf.skipExtentCheck
	}
	return req, nil
}

func worldFilePath(png string) string {
	return strings.TrimSuffix(png, filepath.Ext(png)) + ".pgw"
}

func writeWorldFile(notice io.Writer, png string, d *overlay.Descriptor) error {
	b, err := overlay.WorldFile(d)
	if err != nil {
		return err
	}
	path := worldFilePath(png)
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write world file: %w", err)
	}
	fmt.Fprintf(notice, "World file written to %s (%s)\n", path, d.DisplayCRS)
	return nil
}

func writeDescriptor(stdout io.Writer, path string, d *overlay.Descriptor) error {
	b, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("encode descriptor: %w", err)
	}
	b = append(b, '\n')
	if path == "-" {
		_, err = stdout.Write(b)
		return err
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write descriptor: %w", err)
	}
	return nil
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
