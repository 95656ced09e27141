package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateLotImageType(t *testing.T) {
	assert.True(t, ValidateLotImageType("image/jpeg", "photo.jpg"))
	assert.True(t, ValidateLotImageType("", "photo.PNG"))
	assert.True(t, ValidateLotImageType("IMAGE/WEBP", ""))
	assert.False(t, ValidateLotImageType("video/mp4", "clip.mp4"))
	assert.False(t, ValidateLotImageType("application/pdf", "cert.pdf"))
	assert.False(t, ValidateLotImageType("", ""))
}

func TestContentTypeForFilename(t *testing.T) {
	assert.Equal(t, "image/jpeg", ContentTypeForFilename("a.JPG"))
	assert.Equal(t, "image/webp", ContentTypeForFilename("b.webp"))
	assert.Equal(t, "application/octet-stream", ContentTypeForFilename("c.exe"))
}

func TestLotImageKey(t *testing.T) {
	key := LotImageKey("sess-1", "lot-2", "front.jpg")
	assert.Equal(t, "lots/sess-1/lot-2/front.jpg", key)

	// path components in the filename are stripped
	key = LotImageKey("sess-1", "lot-2", "../../etc/passwd")
	assert.Equal(t, "lots/sess-1/lot-2/passwd", key)
}
