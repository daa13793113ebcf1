package media

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/qqbot-core/gateway/protocol"
	"github.com/qqbot-core/gateway/rest"
	"github.com/qqbot-core/gateway/utils"
)

// FileTypeImage is the upload endpoint's file_type for rich-media
// images; this connector never uploads video/audio/file attachments
// per spec.md §1 Non-goals.
const FileTypeImage = 1

// RangePeekSize is how much of a public-URL image is fetched to decode
// its pixel dimensions, per spec.md §4.5.
const RangePeekSize = 64 * 1024

// Uploader performs the two-step rich-media send: upload-from-URL-or-
// base64, then hand the returned file_info to the caller for a
// msg_type=7 send. Grounded on rest.Client's request/response pattern.
type Uploader struct {
	rest *rest.Client
	http *http.Client
	log  *zap.Logger
}

// New creates an Uploader backed by rc for the upload API call.
func New(rc *rest.Client) *Uploader {
	return &Uploader{
		rest: rc,
		http: &http.Client{},
		log:  utils.With(zap.String("component", "media.Uploader")),
	}
}

// filesPath returns the upload endpoint for target, or an empty string
// if the target kind does not accept rich media (channels).
func filesPath(target protocol.Target) string {
	switch target.Kind {
	case protocol.TargetC2C:
		return "/v2/users/" + target.ID + "/files"
	case protocol.TargetGroup:
		return "/v2/groups/" + target.ID + "/files"
	default:
		return ""
	}
}

// Upload uploads src for target and returns the file_info token to pass
// to a subsequent msg_type=7 send.
func (u *Uploader) Upload(ctx context.Context, token string, target protocol.Target, src protocol.MediaSource) (string, error) {
	path := filesPath(target)
	if path == "" {
		return "", &protocol.PayloadInvalidError{Reason: "target kind does not accept rich media"}
	}

	req := protocol.UploadFileRequest{FileType: FileTypeImage, SrvSendMsg: false}
	switch src.Kind {
	case protocol.MediaPublicURL:
		req.URL = src.Value
	case protocol.MediaDataURL:
		req.FileData = src.Value
	case protocol.MediaLocalPath:
		dataURL, err := LocalPathToDataURL(src.Value)
		if err != nil {
			return "", err
		}
		req.FileData = dataURL
	default:
		return "", &protocol.PayloadInvalidError{Reason: fmt.Sprintf("unknown media source kind %q", src.Kind)}
	}

	// uploadID only correlates this call's log lines; it is not sent to
	// the platform, which assigns its own file_uuid on success.
	uploadID := uuid.NewString()
	u.log.Debug("uploading media", zap.String("uploadId", uploadID), zap.String("kind", string(src.Kind)))

	var out protocol.UploadFileResponse
	if err := u.rest.Request(ctx, token, http.MethodPost, path, req, &out); err != nil {
		u.log.Debug("upload failed", zap.String("uploadId", uploadID), zap.Error(err))
		return "", err
	}
	return out.FileInfo, nil
}

// PeekSize fetches up to RangePeekSize bytes of a public image URL and
// decodes its pixel dimensions, falling back to DefaultWidth/Height
// when the range request or the decode fails.
func (u *Uploader) PeekSize(ctx context.Context, url string) (width, height int) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return DefaultWidth, DefaultHeight
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=0-%d", RangePeekSize-1))

	resp, err := u.http.Do(req)
	if err != nil {
		u.log.Debug("image size peek failed", zap.String("url", url), zap.Error(err))
		return DefaultWidth, DefaultHeight
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, RangePeekSize))
	if err != nil {
		return DefaultWidth, DefaultHeight
	}
	if w, h, ok := DecodeSize(data); ok {
		return w, h
	}
	return DefaultWidth, DefaultHeight
}

// MarkdownLiteral formats the QQ-specific markdown image literal for a
// public image URL, decoding its true pixel size via PeekSize, per
// spec.md §4.5.
func (u *Uploader) MarkdownLiteral(ctx context.Context, url string) string {
	w, h := u.PeekSize(ctx, url)
	return fmt.Sprintf("![#%dpx #%dpx](%s)", w, h, url)
}
