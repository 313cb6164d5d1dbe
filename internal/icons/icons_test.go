package icons

import (
	"bytes"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPNG(t *testing.T) {
	for _, k := range []Kind{Starting, Ready, Recording, Offline} {
		img, err := png.Decode(bytes.NewReader(PNG(k)))
		require.NoError(t, err)
		assert.Equal(t, Size, img.Bounds().Dx())

		r, g, b, a := img.At(Size/2, Size/2-6).RGBA()
		want := Color(k)
		assert.Equal(t, uint32(want.R)*0x101, r)
		assert.Equal(t, uint32(want.G)*0x101, g)
		assert.Equal(t, uint32(want.B)*0x101, b)
		assert.Equal(t, uint32(0xffff), a)

		_, _, _, a = img.At(0, 0).RGBA()
		assert.Zero(t, a, "corner is transparent")
	}
}

func TestUnknownKindFallsBackToOffline(t *testing.T) {
	assert.Equal(t, PNG(Offline), PNG(Kind(99)))
	assert.Equal(t, Color(Offline), Color(Kind(99)))
}
