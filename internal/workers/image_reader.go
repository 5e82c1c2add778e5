package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/joseph-ayodele/receipts-pipeline/internal/entity"
	"github.com/joseph-ayodele/receipts-pipeline/internal/llm"
	"github.com/joseph-ayodele/receipts-pipeline/internal/retryhttp"
)

// ImageReader turns queued receipts into purchases: it claims the receipt,
// reads the image with an Extractor and posts the result back.
type ImageReader struct {
	api       *retryhttp.Client
	serverURL string
	extractor llm.Extractor
	logger    *slog.Logger
}

// NewImageReader builds a reader that calls serverURL through api, which must
// carry the node's bearer token so images can be downloaded.
func NewImageReader(api *retryhttp.Client, serverURL string, extractor llm.Extractor, logger *slog.Logger) *ImageReader {
	if logger == nil {
		logger = slog.Default()
	}
	return &ImageReader{api: api, serverURL: serverURL, extractor: extractor, logger: logger}
}

// abandonTimeout bounds the fail call made after the node was told to stop.
const abandonTimeout = 10 * time.Second

// Handle processes one receipt message. Once the receipt is selected it always
// leaves PROCESSING: either a purchase completes it or it is failed, including
// when ctx is cancelled mid-read.
func (r *ImageReader) Handle(ctx context.Context, rec entity.Receipt) error {
	start := time.Now()
	log := r.logger.With("receipt_id", rec.ID)

	resp, err := r.api.PostJSON(ctx, r.receiptURL(rec.ID, "select"), struct{}{})
	if err != nil {
		return err
	}
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusConflict, http.StatusNotFound:
		log.Info("image_reader.skip", "status", resp.StatusCode, "detail", detail(resp))
		return nil
	default:
		return statusError("select receipt", resp)
	}

	err = r.process(ctx, rec, log)
	switch {
	case err == nil:
		log.Info("image_reader.done", "elapsed_ms", time.Since(start).Milliseconds())
		return nil
	case ctx.Err() != nil:
		r.abandon(ctx, rec.ID, log)
		return err
	default:
		log.Warn("image_reader.read_failed", "error", err)
		return r.fail(ctx, rec.ID, err.Error())
	}
}

// process reads the image and posts the purchase. A 409 from the purchases
// endpoint means the receipt was canceled meanwhile and is not an error.
func (r *ImageReader) process(ctx context.Context, rec entity.Receipt, log *slog.Logger) error {
	purchase, err := r.read(ctx, rec)
	if err != nil {
		return err
	}

	resp, err := r.api.PostJSON(ctx, fmt.Sprintf("%spurchases/?receipt_id=%d", r.serverURL, rec.ID), purchase)
	if err != nil {
		return err
	}
	switch {
	case resp.OK():
		var created entity.Purchase
		if err := resp.DecodeJSON(&created); err != nil {
			return err
		}
		log.Debug("image_reader.purchase_created", "purchase_id", created.ID)
		return nil
	case resp.StatusCode == http.StatusConflict:
		log.Info("image_reader.discarded", "detail", detail(resp))
		return nil
	case resp.StatusCode == http.StatusBadRequest:
		return errors.New("Invalid purchase read: " + detail(resp))
	default:
		return statusError("create purchase", resp)
	}
}

// abandon fails a selected receipt after ctx was cancelled, on a context that
// outlives ctx so the call still reaches the API.
func (r *ImageReader) abandon(ctx context.Context, id int64, log *slog.Logger) {
	failCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), abandonTimeout)
	defer cancel()
	if err := r.fail(failCtx, id, "Reading interrupted: worker stopped"); err != nil {
		log.Error("image_reader.abandon_failed", "error", err)
		return
	}
	log.Warn("image_reader.abandoned")
}

func (r *ImageReader) read(ctx context.Context, rec entity.Receipt) (*entity.PurchaseCreate, error) {
	if rec.ImageURL == "" {
		return nil, fmt.Errorf("receipt %d has no image", rec.ID)
	}
	resp, err := r.api.Get(ctx, rec.ImageURL)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, statusError("download image", resp)
	}
	dataURL, err := llm.ImageDataURL(imageName(rec), resp.Body)
	if err != nil {
		return nil, err
	}
	purchase, _, err := r.extractor.Extract(ctx, llm.ExtractRequest{
		ReceiptID:     rec.ID,
		ReferenceName: rec.ReferenceName,
		ImageDataURL:  dataURL,
	})
	return purchase, err
}

func (r *ImageReader) fail(ctx context.Context, id int64, msg string) error {
	resp, err := r.api.PostJSON(ctx, r.receiptURL(id, "fail"), map[string]string{"error_message": msg})
	if err != nil {
		return err
	}
	if resp.OK() || resp.StatusCode == http.StatusConflict {
		r.logger.Info("image_reader.failed_receipt", "receipt_id", id, "status", resp.StatusCode)
		return nil
	}
	return statusError("fail receipt", resp)
}

func (r *ImageReader) receiptURL(id int64, verb string) string {
	return fmt.Sprintf("%sreceipts/%d/%s", r.serverURL, id, verb)
}

// imageName prefers the stored file name, whose extension matches the bytes.
func imageName(rec entity.Receipt) string {
	if u, err := url.Parse(rec.ImageURL); err == nil && path.Ext(u.Path) != "" {
		return path.Base(u.Path)
	}
	return rec.ReferenceName
}
