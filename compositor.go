package main

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"

	"golang.org/x/image/draw"
)

const (
	// Side length of the square render-space all client coordinates use.
	renderSize = 512

	// Side length of the square lens window the active filter shows through.
	lensSize = 60

	jpegQuality = 85
)

// Filter modes a player can select.
const (
	modeBase    = "BASE"
	modeNVG     = "NVG"
	modeThermal = "THERMAL"
)

// The four rasters the game is built on, by file name under the images
// directory. These names are fixed; the frontend requests them directly.
const (
	imageBase           = "sky.png"
	imageNightVision    = "sky_night_vision.png"
	imageThermal        = "sky_thermal.png"
	imageThermalNoDrone = "sky_non_dron_thermal.png"
)

// Compositor holds the render-size planes used to build per-player frames,
// plus the full-resolution thermal raster the detector scans. All planes are
// immutable after construction, so one Compositor is shared by every room.
type Compositor struct {
	base           *image.RGBA
	nvg            *image.RGBA
	thermal        *image.RGBA
	thermalNoDrone *image.RGBA

	thermalSource *image.RGBA
}

// newCompositor rescales each source raster to the render size independently,
// so mismatched source dimensions cannot bleed into each other.
func newCompositor(base, nvg, thermal, thermalNoDrone image.Image) *Compositor {
	return &Compositor{
		base:           scaleToRender(base),
		nvg:            scaleToRender(nvg),
		thermal:        scaleToRender(thermal),
		thermalNoDrone: scaleToRender(thermalNoDrone),
		thermalSource:  toRGBA(thermal),
	}
}

func loadCompositor(cfg *Config) (*Compositor, error) {
	names := []string{imageBase, imageNightVision, imageThermal, imageThermalNoDrone}
	rasters := make([]image.Image, len(names))

	for i, name := range names {
		path := filepath.Join(cfg.images, name)

		img, err := loadRaster(path)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", name, err)
		}
		rasters[i] = img

		logf(cfg, "IMAGES: Loaded %s (%dx%d)", name, img.Bounds().Dx(), img.Bounds().Dy())
	}

	return newCompositor(rasters[0], rasters[1], rasters[2], rasters[3]), nil
}

func loadRaster(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, err
	}

	return img, nil
}

func toRGBA(src image.Image) *image.RGBA {
	if rgba, ok := src.(*image.RGBA); ok && rgba.Bounds().Min == (image.Point{}) {
		return rgba
	}

	dst := image.NewRGBA(image.Rect(0, 0, src.Bounds().Dx(), src.Bounds().Dy()))
	draw.Copy(dst, image.Point{}, src, src.Bounds(), draw.Src, nil)
	return dst
}

func scaleToRender(src image.Image) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, renderSize, renderSize))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}

// overlayFor selects which plane shows through the lens. In solo rooms the
// thermal view always includes the drone; in multiplayer rooms it depends on
// the player's visibility secret.
func (c *Compositor) overlayFor(mode string, canSeeDrone, solo bool) *image.RGBA {
	switch mode {
	case modeNVG:
		return c.nvg
	case modeThermal:
		if solo || canSeeDrone {
			return c.thermal
		}
		return c.thermalNoDrone
	default:
		return nil
	}
}

// Composite builds the frame for one player: the base plane with the lens
// window overwritten from the selected overlay, encoded as a JPEG data URI.
func (c *Compositor) Composite(mode string, canSeeDrone, solo bool, pos Position) string {
	img := image.NewRGBA(c.base.Rect)
	copy(img.Pix, c.base.Pix)

	if overlay := c.overlayFor(mode, canSeeDrone, solo); overlay != nil {
		x0 := max(0, int(pos.X-lensSize/2))
		y0 := max(0, int(pos.Y-lensSize/2))
		x1 := min(renderSize, x0+lensSize)
		y1 := min(renderSize, y0+lensSize)

		for yy := y0; yy < y1 && x0 < x1; yy++ {
			start := img.PixOffset(x0, yy)
			end := img.PixOffset(x1, yy)
			copy(img.Pix[start:end], overlay.Pix[start:end])
		}
	}

	return encodeFrame(img)
}

func encodeFrame(img *image.RGBA) string {
	var buf bytes.Buffer

	// Encoding failures can only come from the writer, which here is an
	// in-memory buffer.
	_ = jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality})

	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}
