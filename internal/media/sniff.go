package media

import (
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// SniffContainer checks that data holds a video container and returns the
// file extension ffmpeg should see for it (".mp4", ".mov", ".avi", ...).
func SniffContainer(data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty source", ErrDecode)
	}

	m := mimetype.Detect(data)
	for mt := m; mt != nil; mt = mt.Parent() {
		if strings.HasPrefix(mt.String(), "video/") {
			ext := m.Extension()
			if ext == "" {
				ext = ".mp4"
			}
			return ext, nil
		}
	}

	return "", fmt.Errorf("%w: unsupported container %s", ErrDecode, m.String())
}
