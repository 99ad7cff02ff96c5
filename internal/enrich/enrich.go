package enrich

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/docflow-cli/internal/blob"
	"github.com/sells-group/docflow-cli/internal/config"
	"github.com/sells-group/docflow-cli/internal/model"
	"github.com/sells-group/docflow-cli/internal/resilience"
	"github.com/sells-group/docflow-cli/pkg/anthropic"
)

const extractionSystemPrompt = `You are a financial document classifier. Extract structured data from the document and respond with a single valid JSON object:
{"date": "YYYY-MM-DD", "vendor_name": "<vendor>", "invoice_number": "<number>", "amount": "<decimal>", "document_type": "<invoice|receipt|bill|statement|contract|other>", "transaction_type": "<inflow|outflow>", "confidence": <0.0-1.0>}`

const extractionUserPrompt = `Extract the financial fields from this document. Original filename: %s`

// allowedContentTypes is the fixed intake allow-list. Unsupported types
// fail fast with no AI call.
var allowedContentTypes = map[string]bool{
	"application/pdf": true,
	"image/png":       true,
	"image/jpeg":      true,
	"image/gif":       true,
	"image/webp":      true,
	"text/plain":      true,
	"text/csv":        true,
}

// Enricher runs one working record through the AI classification
// contract and produces fully-sanitized enriched fields plus the derived
// canonical filename.
type Enricher struct {
	ai      anthropic.Client
	blobs   blob.Store
	breaker *resilience.CircuitBreaker
	retry   resilience.RetryConfig
	limiter *rate.Limiter

	model           string
	maxTokens       int64
	maxBlobBytes    int64
	filenameCeiling int

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// New builds an Enricher from config. The limiter paces AI calls with the
// fixed inter-document delay; it is shared across all records of a run.
func New(ai anthropic.Client, blobs blob.Store, aiCfg config.AnthropicConfig, pipeCfg config.PipelineConfig) *Enricher {
	docsPerSecond := pipeCfg.DocsPerSecond
	if docsPerSecond <= 0 {
		docsPerSecond = 0.5
	}
	return &Enricher{
		ai:      ai,
		blobs:   blobs,
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{}),
		retry: resilience.RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: 2 * time.Second,
			MaxBackoff:     60 * time.Second,
			Multiplier:     2.0,
			JitterFraction: 0.25,
			OnRetry:        resilience.RetryLogger("anthropic", "classify_document"),
		},
		limiter:         rate.NewLimiter(rate.Limit(docsPerSecond), 1),
		model:           aiCfg.Model,
		maxTokens:       int64(aiCfg.MaxTokens),
		maxBlobBytes:    pipeCfg.MaxBlobBytes,
		filenameCeiling: pipeCfg.FilenameCeiling,
		nowFunc:         time.Now,
	}
}

// Enrich classifies one record's document. Gate failures (missing blob,
// unsupported type, oversize) return coded errors with no AI call.
func (e *Enricher) Enrich(ctx context.Context, tenant model.Tenant, rec *model.WorkingRecord) (model.EnrichedFields, string, error) {
	var zero model.EnrichedFields

	info, err := e.blobs.Stat(ctx, tenant.BlobRoot, blob.SubtreeStaging, rec.BlobRef)
	if err != nil {
		return zero, "", resilience.NewCoded(resilience.CodeFileNotFound,
			eris.Wrapf(err, "enrich: blob %s", rec.BlobRef))
	}

	if !allowedContentTypes[baseContentType(info.ContentType)] {
		return zero, "", resilience.Codef(resilience.CodeInvalidInput,
			"enrich: unsupported content type "+info.ContentType)
	}
	if e.maxBlobBytes > 0 && info.Size > e.maxBlobBytes {
		return zero, "", resilience.Codef(resilience.CodeInvalidInput,
			"enrich: blob exceeds size ceiling")
	}

	data, info, err := e.blobs.Fetch(ctx, tenant.BlobRoot, blob.SubtreeStaging, rec.BlobRef)
	if err != nil {
		return zero, "", resilience.NewCoded(resilience.CodeFileNotFound,
			eris.Wrapf(err, "enrich: fetch blob %s", rec.BlobRef))
	}

	// Pace AI calls to respect the provider throughput ceiling.
	if err := e.limiter.Wait(ctx); err != nil {
		return zero, "", eris.Wrap(err, "enrich: rate limit wait")
	}

	req := e.buildRequest(rec, data, baseContentType(info.ContentType))

	// Classification into the taxonomy happens inside the retried closure:
	// the retry loop only recognizes coded errors, and API_LIMIT_EXCEEDED
	// must consume the full attempt budget with backoff.
	resp, err := resilience.DoVal(ctx, e.retry, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		resp, err := resilience.ExecuteVal(ctx, e.breaker, func(ctx context.Context) (*anthropic.MessageResponse, error) {
			return e.ai.CreateMessage(ctx, req)
		})
		if err != nil {
			return nil, classifyAPIError(err)
		}
		return resp, nil
	})
	if err != nil {
		return zero, "", err
	}

	resp.Usage.LogCost(e.model, "enrich")

	raw, err := ParseResponse(resp.Text())
	if err != nil {
		return zero, "", err
	}

	fields := Sanitize(raw, e.nowFunc())
	derivedName := DeriveFilename(fields, rec.OriginalName, e.filenameCeiling)

	zap.L().Info("enrich: document classified",
		zap.String("record_id", rec.ID),
		zap.String("derived_name", derivedName),
		zap.Float64("confidence", fields.Confidence),
	)
	return fields, derivedName, nil
}

func (e *Enricher) buildRequest(rec *model.WorkingRecord, data []byte, contentType string) anthropic.MessageRequest {
	var content anthropic.ContentPart
	switch {
	case contentType == "application/pdf":
		content = anthropic.DocumentPart(base64.StdEncoding.EncodeToString(data))
	case strings.HasPrefix(contentType, "image/"):
		content = anthropic.ImagePart(contentType, base64.StdEncoding.EncodeToString(data))
	default:
		content = anthropic.TextPart(string(data))
	}

	return anthropic.MessageRequest{
		Model:     e.model,
		MaxTokens: e.maxTokens,
		System:    extractionSystemPrompt,
		Parts: []anthropic.ContentPart{
			content,
			anthropic.TextPart(strings.Replace(extractionUserPrompt, "%s", rec.OriginalName, 1)),
		},
	}
}

// classifyAPIError maps transport failures to the taxonomy: any non-200
// HTTP status is API_LIMIT_EXCEEDED; everything else is PROCESSING_FAILED
// unless already coded.
func classifyAPIError(err error) error {
	var ce *resilience.CodedError
	if errors.As(err, &ce) {
		return err
	}
	var statusErr *anthropic.APIStatusError
	if errors.As(err, &statusErr) {
		return resilience.NewCoded(resilience.CodeAPILimitExceeded, err)
	}
	return resilience.NewCoded(resilience.CodeProcessingFailed, err)
}

func baseContentType(ct string) string {
	if idx := strings.Index(ct, ";"); idx >= 0 {
		ct = ct[:idx]
	}
	return strings.TrimSpace(strings.ToLower(ct))
}
