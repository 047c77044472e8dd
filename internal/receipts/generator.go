// Package receipts renders plain-text payment receipts and stores them in GCS.
package receipts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"text/template"
	"time"

	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/tradeline-backend/pkg/errors"
	"github.com/angelmondragon/tradeline-backend/pkg/logger"
	"github.com/angelmondragon/tradeline-backend/pkg/money"
)

const (
	defaultTimeout    = 30 * time.Second
	defaultPathPrefix = "receipts"
	contentType       = "text/plain; charset=utf-8"
	cleanupTimeout    = 5 * time.Second
)

// Details is everything printed on a receipt.
type Details struct {
	TransactionID    uuid.UUID
	PaymentReference string
	ProductTitle     string
	BuyerName        string
	BuyerEmail       string
	SellerName       string
	AmountKobo       int64
	PaidAt           time.Time
}

type objectStore interface {
	UploadObject(ctx context.Context, bucket, object, contentType string, body []byte) (string, error)
	DeleteObject(ctx context.Context, bucket, object string) error
}

type receiptStore interface {
	SetReceiptURL(ctx context.Context, id uuid.UUID, url string) error
}

// Options tunes the generator; zero values take defaults.
type Options struct {
	Bucket     string
	PathPrefix string
	Timeout    time.Duration
}

// Generator renders and uploads receipts.
type Generator struct {
	storage objectStore
	store   receiptStore
	bucket  string
	prefix  string
	timeout time.Duration
	logg    *logger.Logger
}

func NewGenerator(storage objectStore, store receiptStore, logg *logger.Logger, opts Options) (*Generator, error) {
	if storage == nil {
		return nil, errors.New("receipt storage required")
	}
	if store == nil {
		return nil, errors.New("transaction store required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	prefix := strings.Trim(strings.TrimSpace(opts.PathPrefix), "/")
	if prefix == "" {
		prefix = defaultPathPrefix
	}
	return &Generator{
		storage: storage,
		store:   store,
		bucket:  opts.Bucket,
		prefix:  prefix,
		timeout: opts.Timeout,
		logg:    logg,
	}, nil
}

// GenerateAndDeliver renders the receipt, uploads it, and records its URL on
// the transaction. The whole round trip shares one timeout.
func (g *Generator) GenerateAndDeliver(ctx context.Context, details Details) (string, error) {
	if details.TransactionID == uuid.Nil || details.PaymentReference == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "receipt needs a transaction id and payment reference")
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	body, err := Render(details)
	if err != nil {
		return "", err
	}

	object := g.ObjectName(details)
	url, err := g.storage.UploadObject(ctx, g.bucket, object, contentType, body)
	if err != nil {
		return "", fmt.Errorf("upload receipt: %w", err)
	}
	if err := g.store.SetReceiptURL(ctx, details.TransactionID, url); err != nil {
		g.discard(ctx, object)
		return "", fmt.Errorf("record receipt url: %w", err)
	}

	g.logg.Info(g.logg.WithFields(ctx, map[string]any{
		"transaction_id":    details.TransactionID.String(),
		"payment_reference": details.PaymentReference,
		"receipt_url":       url,
	}), "receipt delivered")
	return url, nil
}

// discard removes an upload whose URL never reached the transaction. The
// request context may already be spent, so cleanup gets its own deadline.
func (g *Generator) discard(ctx context.Context, object string) {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	if err := g.storage.DeleteObject(cleanupCtx, g.bucket, object); err != nil {
		g.logg.Warn(g.logg.WithFields(ctx, map[string]any{"object": object, "error": err.Error()}), "orphaned receipt left in bucket")
	}
}

// ObjectName is stable per transaction so a redelivered request overwrites
// the same object.
func (g *Generator) ObjectName(details Details) string {
	paid := details.PaidAt.UTC()
	if paid.IsZero() {
		paid = time.Now().UTC()
	}
	return path.Join(g.prefix, paid.Format("2006/01"), details.PaymentReference+".txt")
}

var receiptTemplate = template.Must(template.New("receipt").Funcs(template.FuncMap{
	"naira": money.FormatNaira,
	"lagos": func(t time.Time) string { return t.In(lagos).Format("02 Jan 2006 15:04 WAT") },
}).Parse(`TRADELINE PAYMENT RECEIPT
=========================

Reference:     {{.PaymentReference}}
Transaction:   {{.TransactionID}}
Paid at:       {{lagos .PaidAt}}

Item:          {{.ProductTitle}}
Buyer:         {{.BuyerName}}{{if .BuyerEmail}} <{{.BuyerEmail}}>{{end}}
Seller:        {{.SellerName}}

Amount paid:   {{naira .AmountKobo}}

Your payment is held in escrow and released to the seller only after you
confirm delivery. Keep this reference for any refund request.
`))

var lagos = time.FixedZone("WAT", 60*60)

// Render produces the buyer-facing receipt text.
func Render(details Details) ([]byte, error) {
	var buf bytes.Buffer
	if err := receiptTemplate.Execute(&buf, details); err != nil {
		return nil, fmt.Errorf("render receipt: %w", err)
	}
	return buf.Bytes(), nil
}
