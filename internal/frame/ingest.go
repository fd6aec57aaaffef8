/**
 * Frame Ingest Handler
 *
 * Accepts frames from an external capture process:
 *
 *   POST /frames  Content-Type: image/png|image/jpeg  X-Frame-Source: <name>
 *
 * The handler does not wait for recognition.
 */

package frame

import (
	"io"
	"net/http"
	"strings"
)

// MaxIngestBytes bounds the size of one uploaded frame
const MaxIngestBytes = 32 << 20

// IngestHandler publishes an uploaded frame to the inbox and answers 202
func IngestHandler(inbox *LatestSource) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxIngestBytes))
		if err != nil {
			http.Error(w, "frame too large or unreadable", http.StatusRequestEntityTooLarge)
			return
		}
		if len(data) == 0 {
			http.Error(w, "empty frame", http.StatusBadRequest)
			return
		}

		source := r.Header.Get("X-Frame-Source")
		if source == "" {
			source = "http"
		}
		inbox.Publish(New(source, formatFromContentType(r.Header.Get("Content-Type")), data))
		w.WriteHeader(http.StatusAccepted)
	})
}

func formatFromContentType(ct string) string {
	ct = strings.ToLower(ct)
	switch {
	case strings.HasPrefix(ct, "image/png"):
		return "png"
	case strings.HasPrefix(ct, "image/jpeg"), strings.HasPrefix(ct, "image/jpg"):
		return "jpeg"
	default:
		return ""
	}
}
