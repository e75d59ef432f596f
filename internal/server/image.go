package server

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
)

var errImageTooLarge = errors.New("image exceeds size limit")

type imageInfo struct {
	Format string
	Width  int
	Height int
}

// readImage reads at most limit bytes of the upload. The bool reports whether
// the request carried an image part at all.
func readImage(r *http.Request, limit int64) ([]byte, bool, error) {
	file, _, err := r.FormFile("image")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		return nil, true, fmt.Errorf("read image: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, true, errImageTooLarge
	}
	return data, true, nil
}

// inspectImage decodes only the image header.
func inspectImage(data []byte) (imageInfo, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return imageInfo{}, err
	}
	return imageInfo{Format: format, Width: cfg.Width, Height: cfg.Height}, nil
}
