// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.


package fits

import (
	"bufio"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"math"
	"path"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"

	"github.com/mlnoga/facefind/internal/stats"
)

// Returns true if the file name has a raster image suffix
func IsRasterFileName(fileName string) bool {
	switch strings.ToLower(path.Ext(fileName)) {
	case ".png", ".jpg", ".jpeg", ".tif", ".tiff", ".bmp":
		return true
	}
	return false
}

// Reads a PNG, JPEG, TIFF or BMP image and converts it to grayscale luminance in [0,1]
func (f *Image) ReadRaster(r io.Reader, logWriter io.Writer) error {
	img, format, err := image.Decode(bufio.NewReader(r))
	if err != nil {
		return fmt.Errorf("%d: %s", f.ID, err.Error())
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	bitpix, channels := colorModelToBitpixAndChannels(img.ColorModel())
	if channels > 1 {
		fmt.Fprintf(logWriter, "%d: Converting %d-channel %s image to grayscale\n", f.ID, channels, format)
	}

	f.Bitpix = bitpix
	f.Naxisn = []int32{int32(width), int32(height)}
	f.Pixels = int32(width) * int32(height)
	f.Bzero, f.Bscale = 0, 1
	f.Data = make([]float32, f.Pixels)

	min, max, sum := float32(math.MaxFloat32), float32(-math.MaxFloat32), float64(0)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			c := color.Gray16Model.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.Gray16)
			gray := float32(c.Y) / 65535
			f.Data[y*width+x] = gray
			if gray < min {
				min = gray
			}
			if gray > max {
				max = gray
			}
			sum += float64(gray)
		}
	}
	mean := float32(sum / float64(len(f.Data)))
	f.Stats = stats.NewStatsWithMMM(f.Data, f.Naxisn[0], min, max, mean)
	return nil
}

func colorModelToBitpixAndChannels(m color.Model) (bitpix, channels int32) {
	switch m {
	case color.RGBAModel, color.NRGBAModel, color.YCbCrModel, color.CMYKModel:
		return 8, 3
	case color.RGBA64Model, color.NRGBA64Model:
		return 16, 3
	case color.AlphaModel, color.GrayModel:
		return 8, 1
	case color.Alpha16Model, color.Gray16Model:
		return 16, 1
	default:
		return 8, 3
	}
}
