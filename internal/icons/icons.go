// Package icons рисует иконки трея во время работы.
package icons

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"sync"
)

// Kind - вид иконки по состоянию приложения.
type Kind int

const (
	Starting Kind = iota
	Ready
	Recording
	Offline
)

// Size - сторона иконки в пикселях.
const Size = 64

var colors = map[Kind]color.RGBA{
	Starting:  {230, 160, 50, 255},  // Оранжевый
	Ready:     {60, 170, 90, 255},   // Зелёный
	Recording: {220, 50, 50, 255},   // Красный
	Offline:   {128, 128, 128, 255}, // Серый
}

var (
	once  sync.Once
	cache map[Kind][]byte
)

// PNG возвращает иконку в формате PNG. Неизвестный вид рисуется как Offline.
func PNG(k Kind) []byte {
	once.Do(func() {
		cache = make(map[Kind][]byte, len(colors))
		for kind, c := range colors {
			cache[kind] = encode(Draw(c))
		}
	})
	if data, ok := cache[k]; ok {
		return data
	}
	return cache[Offline]
}

// Color возвращает основной цвет иконки.
func Color(k Kind) color.RGBA {
	if c, ok := colors[k]; ok {
		return c
	}
	return colors[Offline]
}

// Draw рисует упрощённый микрофон: круг и ножку.
func Draw(c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, Size, Size))

	centerX, centerY := Size/2, Size/2-6
	radius := 20.0

	for y := 0; y < Size; y++ {
		for x := 0; x < Size; x++ {
			dx := float64(x - centerX)
			dy := float64(y - centerY)
			if dx*dx+dy*dy <= radius*radius {
				img.SetRGBA(x, y, c)
			}
		}
	}

	for y := centerY + int(radius); y < centerY+int(radius)+10 && y < Size; y++ {
		for x := centerX - 3; x <= centerX+3; x++ {
			img.SetRGBA(x, y, c)
		}
	}

	return img
}

func encode(img image.Image) []byte {
	var buf bytes.Buffer
	// Кодирование в память не возвращает ошибок для RGBA.
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}
