package asciiart

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"

	_ "image/gif"
	_ "image/jpeg"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	_ "golang.org/x/image/tiff"
)

// DefaultCharset orders glyphs from dense to sparse; brighter cells map to
// the front of the set so stars stay visible on the black canvas.
const DefaultCharset = "@%#*+=-:. "

// Glyph cell dimensions of the basicfont face used for rendering.
const (
	cellWidth  = 7
	cellHeight = 13
)

// Convert renders the image at imagePath as colored ASCII art and writes the
// result as a PNG to outputPath. columns is the number of text columns; rows
// follow from the source aspect ratio and the glyph cell shape. Parent
// directories of outputPath are created as needed.
func Convert(imagePath string, columns int, charset string, outputPath string) error {
	if columns <= 0 {
		return fmt.Errorf("columns must be positive, got %d", columns)
	}
	if charset == "" {
		charset = DefaultCharset
	}

	src, err := decodeImage(imagePath)
	if err != nil {
		return err
	}

	bounds := src.Bounds()
	if bounds.Dx() == 0 || bounds.Dy() == 0 {
		return fmt.Errorf("image %s is empty", imagePath)
	}

	// One scaled pixel per character cell. The cell is taller than wide,
	// so the row count compensates to preserve the aspect ratio.
	rows := bounds.Dy() * columns * cellWidth / (bounds.Dx() * cellHeight)
	if rows < 1 {
		rows = 1
	}

	cells := image.NewRGBA(image.Rect(0, 0, columns, rows))
	draw.ApproxBiLinear.Scale(cells, cells.Bounds(), src, bounds, draw.Src, nil)

	out := renderCells(cells, []rune(charset))

	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer file.Close()

	if err := png.Encode(file, out); err != nil {
		return fmt.Errorf("failed to encode output image: %w", err)
	}

	return file.Close()
}

func decodeImage(imagePath string) (image.Image, error) {
	file, err := os.Open(imagePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer file.Close()

	src, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image %s: %w", imagePath, err)
	}

	return src, nil
}

// renderCells draws one glyph per cell pixel onto a black canvas, colored
// with the cell's color and chosen by its luminance.
func renderCells(cells *image.RGBA, charset []rune) *image.RGBA {
	bounds := cells.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, bounds.Dx()*cellWidth, bounds.Dy()*cellHeight))
	draw.Draw(out, out.Bounds(), image.Black, image.Point{}, draw.Src)

	face := basicfont.Face7x13
	drawer := &font.Drawer{
		Dst:  out,
		Face: face,
	}

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c := cells.RGBAAt(x, y)
			glyph := charset[glyphIndex(c, len(charset))]
			if glyph == ' ' {
				continue
			}

			drawer.Src = image.NewUniform(c)
			drawer.Dot = fixed.P(x*cellWidth, y*cellHeight+face.Ascent)
			drawer.DrawString(string(glyph))
		}
	}

	return out
}

// glyphIndex maps a cell color's luminance onto the charset: bright cells
// pick dense glyphs at the front, dark cells the sparse ones at the back.
func glyphIndex(c color.RGBA, setLen int) int {
	// Rec. 601 luma weights
	lum := (299*int(c.R) + 587*int(c.G) + 114*int(c.B)) / 1000

	idx := (255 - lum) * setLen / 256
	if idx >= setLen {
		idx = setLen - 1
	}
	return idx
}
