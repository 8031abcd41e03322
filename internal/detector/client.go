// Package detector is the client for the remote headcount detection endpoint.
package detector

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/rollcall/internal/reconcile"
	"github.com/danmuck/rollcall/internal/upstream"
	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog/log"
)

const (
	DefaultMaxImageBytes = 10 << 20
	DefaultArtifactPath  = "/static/uploads/debug_active.jpg"
	headcountPath        = "/headcount"
)

var allowedTypes = []string{"image/png", "image/jpeg", "image/gif", "image/bmp", "image/webp"}

// ImageError rejects an upload before it leaves the process.
type ImageError struct {
	Message string
}

func (e *ImageError) Error() string         { return "detector: " + e.Message }
func (e *ImageError) ServerMessage() string { return e.Message }

type Config struct {
	Upstream upstream.Config
	// ArtifactPath is where the detector publishes its annotated image when
	// the response does not name one. Empty disables the fallback.
	ArtifactPath  string
	MaxImageBytes int
	Now           func() time.Time
}

// Box is one detected face/head in image pixel coordinates.
type Box struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

type response struct {
	Headcount  *int   `json:"headcount"`
	Detections []Box  `json:"detections"`
	DebugImage string `json:"debug_image"`
	Comparison *struct {
		ScannedCount int    `json:"scanned_count"`
		Status       string `json:"status"`
	} `json:"comparison"`
}

// Client uploads classroom photos for counting. It satisfies
// reconcile.HeadcountDetector.
type Client struct {
	api          *upstream.Client
	artifactPath string
	maxBytes     int
	now          func() time.Time
}

var _ reconcile.HeadcountDetector = (*Client)(nil)

func NewClient(cfg Config) (*Client, error) {
	if cfg.Upstream.Target == "" {
		cfg.Upstream.Target = "detector"
	}
	api, err := upstream.NewClient(cfg.Upstream)
	if err != nil {
		return nil, err
	}
	if cfg.MaxImageBytes <= 0 {
		cfg.MaxImageBytes = DefaultMaxImageBytes
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Client{
		api:          api,
		artifactPath: strings.TrimSpace(cfg.ArtifactPath),
		maxBytes:     cfg.MaxImageBytes,
		now:          cfg.Now,
	}, nil
}

func (c *Client) Detect(ctx context.Context, sessionID string, image []byte) (reconcile.Detection, error) {
	if len(image) == 0 {
		return reconcile.Detection{}, &ImageError{Message: "Uploaded file is empty"}
	}
	if len(image) > c.maxBytes {
		return reconcile.Detection{}, &ImageError{
			Message: fmt.Sprintf("File too large. Maximum size is %dMB.", c.maxBytes>>20),
		}
	}
	mtype := mimetype.Detect(image)
	if !isAllowed(mtype) {
		return reconcile.Detection{}, &ImageError{
			Message: "Invalid file type. Allowed: png, jpg, jpeg, gif, bmp, webp",
		}
	}

	body, contentType, err := encodeUpload(sessionID, image, mtype)
	if err != nil {
		return reconcile.Detection{}, err
	}

	var out response
	err = c.api.Do(ctx, upstream.Request{
		Method:      http.MethodPost,
		Path:        headcountPath,
		Body:        body,
		ContentType: contentType,
	}, &out)
	if err != nil {
		return reconcile.Detection{}, err
	}

	det := reconcile.Detection{
		Headcount: out.Headcount,
		Boxes:     len(out.Detections),
		Artifact:  c.artifactRef(out.DebugImage),
	}
	if out.Comparison != nil {
		log.Debug().
			Str("session", sessionID).
			Int("server_scanned", out.Comparison.ScannedCount).
			Str("server_status", out.Comparison.Status).
			Msg("detector comparison")
	}
	return det, nil
}

func (c *Client) artifactRef(debugImage string) string {
	ref := strings.TrimSpace(debugImage)
	if ref == "" {
		if c.artifactPath == "" {
			return ""
		}
		ref = c.artifactPath + "?t=" + strconv.FormatInt(c.now().UnixMilli(), 10)
	}
	if strings.HasPrefix(ref, "/") {
		return c.api.BaseURL() + ref
	}
	return ref
}

func encodeUpload(sessionID string, image []byte, mtype *mimetype.MIME) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="image"; filename="classroom%s"`, mtype.Extension()))
	header.Set("Content-Type", mtype.String())
	part, err := w.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("detector: create image part: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return nil, "", fmt.Errorf("detector: write image part: %w", err)
	}
	if err := w.WriteField("classroom_id", sessionID); err != nil {
		return nil, "", fmt.Errorf("detector: write classroom_id: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("detector: close multipart: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

func isAllowed(mtype *mimetype.MIME) bool {
	for _, t := range allowedTypes {
		if mtype.Is(t) {
			return true
		}
	}
	return false
}
