// Package slideshow generates small JPEG thumbnails suitable for sending as
// a single UDP datagram, for use by the cmd/udpslideshow demo.
//
// Adapted from rcarmo-codebits-tv/internal/frame, which rendered full-size
// (e.g. 1920x1080) frames for a fragmenting multicast sender
// (internal/mcast's SendFrame). Application-level fragmentation is out of
// scope here (see SPEC_FULL.md's Non-goals), so this package is trimmed to
// one small, pre-scaled geometry and drops frame's crossfade blending,
// which only mattered at video framerates; it keeps the teacher's
// directory-of-images slideshow and timestamp-overlay ideas, converted from
// package-level state to a struct so a program can run more than one
// Generator (e.g. two interfaces, two geometries) without them stepping on
// shared globals.
package slideshow

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	draw2 "golang.org/x/image/draw"
	xfont "golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	_ "golang.org/x/image/bmp"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
)

// maxPayload bounds a generated frame to comfortably fit in one UDP
// datagram alongside typical IP/UDP headers, well under the 65535-byte
// hard datagram limit.
const maxPayload = 1200

// Generator cycles through a directory of images, producing small JPEG
// thumbnails sized to fit one UDP datagram.
type Generator struct {
	mu          sync.Mutex
	width       int
	height      int
	quality     int
	interval    time.Duration
	timestamp   bool
	slides      []image.Image
	cur         int
	lastAdvance time.Time
}

// New returns a Generator at the given thumbnail geometry and slide
// interval. Geometry defaults to 160x120 and quality to 70 if zero, small
// enough that most photos encode under maxPayload.
func New(width, height int, quality int, interval time.Duration) *Generator {
	if width <= 0 {
		width = 160
	}
	if height <= 0 {
		height = 120
	}
	if quality <= 0 {
		quality = 70
	}
	return &Generator{
		width:    width,
		height:   height,
		quality:  quality,
		interval: interval,
	}
}

// SetTimestamp enables or disables the timestamp overlay on generated
// frames.
func (g *Generator) SetTimestamp(enabled bool) {
	g.mu.Lock()
	g.timestamp = enabled
	g.mu.Unlock()
}

// Load scans dir for supported image files and decodes/scales them to the
// generator's geometry.
func (g *Generator) Load(dir string) error {
	imgs, err := g.loadImages(dir)
	if err != nil {
		return err
	}
	if len(imgs) == 0 {
		return errors.New("slideshow: no images found")
	}
	g.mu.Lock()
	g.slides = imgs
	g.cur = 0
	g.lastAdvance = time.Now()
	g.mu.Unlock()
	return nil
}

func (g *Generator) loadImages(dir string) ([]image.Image, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch filepath.Ext(p) {
		case ".jpg", ".jpeg", ".png", ".gif", ".bmp":
			paths = append(paths, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	imgs := make([]image.Image, 0, len(paths))
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			continue
		}
		src, _, err := image.Decode(f)
		f.Close()
		if err != nil {
			continue
		}
		imgs = append(imgs, g.fit(src))
	}
	return imgs, nil
}

// fit scales src to fill the generator's geometry, preserving aspect ratio
// and centering on a black background.
func (g *Generator) fit(src image.Image) image.Image {
	dst := image.NewRGBA(image.Rect(0, 0, g.width, g.height))
	draw2.Draw(dst, dst.Bounds(), &image.Uniform{C: color.Black}, image.Point{}, draw2.Src)

	sw, sh := src.Bounds().Dx(), src.Bounds().Dy()
	scale := float64(g.width) / float64(sw)
	if rh := float64(g.height) / float64(sh); rh < scale {
		scale = rh
	}
	nw, nh := int(float64(sw)*scale), int(float64(sh)*scale)
	offX, offY := (g.width-nw)/2, (g.height-nh)/2

	tmp := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw2.ApproxBiLinear.Scale(tmp, tmp.Bounds(), src, src.Bounds(), draw2.Over, nil)
	draw.Draw(dst, image.Rect(offX, offY, offX+nw, offY+nh), tmp, image.Point{}, draw.Src)
	return dst
}

// Next advances to the next slide if the configured interval has elapsed
// and returns the current frame JPEG-encoded, retrying at a lower quality
// if the encoded frame would exceed maxPayload.
func (g *Generator) Next() ([]byte, error) {
	g.mu.Lock()
	if len(g.slides) == 0 {
		g.mu.Unlock()
		return g.blankFrame()
	}
	now := time.Now()
	if now.Sub(g.lastAdvance) >= g.interval {
		g.cur = (g.cur + 1) % len(g.slides)
		g.lastAdvance = now
	}
	img := g.slides[g.cur]
	ts := g.timestamp
	g.mu.Unlock()

	return g.encode(img, ts)
}

func (g *Generator) blankFrame() ([]byte, error) {
	dst := image.NewRGBA(image.Rect(0, 0, g.width, g.height))
	draw2.Draw(dst, dst.Bounds(), &image.Uniform{C: color.Black}, image.Point{}, draw2.Src)
	return g.encode(dst, true)
}

func (g *Generator) encode(img image.Image, timestamp bool) ([]byte, error) {
	rgba := image.NewRGBA(image.Rect(0, 0, g.width, g.height))
	draw.Draw(rgba, rgba.Bounds(), img, image.Point{}, draw.Src)
	if timestamp {
		addLabel(rgba, 4, g.height-4, time.Now().Format("15:04:05"))
	}

	g.mu.Lock()
	quality := g.quality
	g.mu.Unlock()

	for {
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, rgba, &jpeg.Options{Quality: quality}); err != nil {
			return nil, err
		}
		if buf.Len() <= maxPayload || quality <= 10 {
			return buf.Bytes(), nil
		}
		quality -= 10
	}
}

func addLabel(img *image.RGBA, x, y int, label string) {
	d := &xfont.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.RGBA{255, 255, 255, 255}),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(label)
}
