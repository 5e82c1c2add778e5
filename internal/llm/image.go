package llm

import (
	"encoding/base64"
	"fmt"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/joseph-ayodele/receipts-pipeline/constants"
)

// MaxVisionBytes is the largest image sent inline to the model.
const MaxVisionBytes = 20 * 1024 * 1024

// ImageDataURL inlines an image as a data: URL. The MIME type comes from the
// name's extension, falling back to content sniffing.
func ImageDataURL(name string, b []byte) (string, error) {
	if len(b) == 0 {
		return "", fmt.Errorf("image %q is empty", name)
	}
	if len(b) > MaxVisionBytes {
		return "", fmt.Errorf("image %q is %d bytes, over the %d byte limit", name, len(b), MaxVisionBytes)
	}
	ext := constants.NormalizeExt(path.Ext(name))
	mt := mime.TypeByExtension("." + ext)
	if !strings.HasPrefix(mt, "image/") {
		// fallbacks
		switch ext {
		case "jpg", "jpeg":
			mt = "image/jpeg"
		case "png":
			mt = "image/png"
		default:
			mt = http.DetectContentType(b)
		}
	}
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = mt[:i]
	}
	if !strings.HasPrefix(mt, "image/") {
		return "", fmt.Errorf("image %q has unsupported type %s", name, mt)
	}
	return "data:" + mt + ";base64," + base64.StdEncoding.EncodeToString(b), nil
}
