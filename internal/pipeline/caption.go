package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/akslabs/cloudgallery/internal/index"
)

// MetadataCaption is the default CaptionFunc: a short human-readable summary
// of the photo stamped onto the carrying message.
func MetadataCaption(ctx context.Context, photo index.LocalPhoto) (string, error) {
	modified := time.UnixMilli(photo.DateModified).UTC().Format("2006-01-02 15:04:05")
	caption := fmt.Sprintf("%s\nModified: %s UTC", filepath.Base(photo.LocationRef), modified)
	if info, err := os.Stat(photo.LocationRef); err == nil {
		caption += fmt.Sprintf("\nSize: %d bytes", info.Size())
	}
	return caption, nil
}
