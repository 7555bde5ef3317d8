package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"github.com/dativo-io/aegis/internal/entity"
)

// SourceAzure is the provenance tag on spans produced by the cloud detector.
const SourceAzure = "azure"

// azureAPIVersion is the Language Service API version this client speaks.
const azureAPIVersion = "2023-04-01"

// azureCategoryMapping maps Azure PII categories to the canonical entity
// vocabulary shared with the local detector. Unknown categories pass
// through uppercased, keeping the vocabulary open.
var azureCategoryMapping = map[string]string{
	"Person":                       "PERSON",
	"PersonType":                   "PERSON",
	"Email":                        "EMAIL_ADDRESS",
	"PhoneNumber":                  "PHONE_NUMBER",
	"Address":                      "LOCATION",
	"CreditCardNumber":             "CREDIT_CARD",
	"BankAccountNumber":            "IBAN_CODE",
	"IPAddress":                    "IP_ADDRESS",
	"DateTime":                     "DATE_TIME",
	"URL":                          "URL",
	"Organization":                 "ORGANIZATION",
	"USSocialSecurityNumber":       "US_SSN",
	"KRResidentRegistrationNumber": "KR_SSN",
	"KRBankAccountNumber":          "KR_BANK_ACCOUNT",
}

// AzureDetector calls the Azure Language Service PII recognition endpoint.
//
// Requests always set stringIndexType=UnicodeCodePoint so the returned
// offsets land in the same code-point coordinate space the rest of the
// engine uses.
type AzureDetector struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// AzureOption configures an AzureDetector.
type AzureOption func(*AzureDetector)

// WithHTTPClient overrides the HTTP client (tests inject httptest clients).
func WithHTTPClient(c *http.Client) AzureOption {
	return func(d *AzureDetector) { d.httpClient = c }
}

// WithRateLimit caps outgoing requests per second. The Language Service
// S-tier quota is easy to exhaust from batch evaluation runs.
func WithRateLimit(rps float64, burst int) AzureOption {
	return func(d *AzureDetector) { d.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

// NewAzureDetector creates a cloud detector for the given Language Service
// endpoint (https://<resource>.cognitiveservices.azure.com). A missing
// endpoint or key is a configuration error surfaced at construction, not
// per call.
func NewAzureDetector(endpoint, apiKey string, opts ...AzureOption) (*AzureDetector, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("azure detector: endpoint is required")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("azure detector: api key is required")
	}

	d := &AzureDetector{
		endpoint:   strings.TrimRight(endpoint, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(10), 10),
	}
	for _, o := range opts {
		o(d)
	}
	return d, nil
}

// Name implements Detector.
func (d *AzureDetector) Name() string { return SourceAzure }

type azureAnalyzeRequest struct {
	Kind          string             `json:"kind"`
	AnalysisInput azureAnalysisInput `json:"analysisInput"`
	Parameters    azureParameters    `json:"parameters"`
}

type azureAnalysisInput struct {
	Documents []azureDocument `json:"documents"`
}

type azureDocument struct {
	ID       string `json:"id"`
	Language string `json:"language"`
	Text     string `json:"text"`
}

type azureParameters struct {
	ModelVersion    string `json:"modelVersion"`
	StringIndexType string `json:"stringIndexType"`
}

type azureAnalyzeResponse struct {
	Results struct {
		Documents []struct {
			ID       string `json:"id"`
			Entities []struct {
				Text            string  `json:"text"`
				Category        string  `json:"category"`
				Offset          int     `json:"offset"`
				Length          int     `json:"length"`
				ConfidenceScore float64 `json:"confidenceScore"`
			} `json:"entities"`
		} `json:"documents"`
		Errors []struct {
			ID    string `json:"id"`
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		} `json:"errors"`
	} `json:"results"`
}

// Detect sends text to the PII recognition endpoint and normalizes the
// response into spans. Operational failures (network, auth, service errors)
// are returned as errors; a clean "no PII" response yields an empty slice.
func (d *AzureDetector) Detect(ctx context.Context, text, language string, scoreThreshold float64) ([]entity.Span, error) {
	ctx, span := tracer.Start(ctx, "detect.azure")
	defer span.End()

	if err := d.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("azure rate limiter: %w", err)
	}

	apiReq := azureAnalyzeRequest{
		Kind: "PiiEntityRecognition",
		AnalysisInput: azureAnalysisInput{
			Documents: []azureDocument{{ID: "1", Language: language, Text: text}},
		},
		Parameters: azureParameters{
			ModelVersion:    "latest",
			StringIndexType: "UnicodeCodePoint",
		},
	}

	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("marshaling azure request: %w", err)
	}

	url := fmt.Sprintf("%s/language/:analyze-text?api-version=%s", d.endpoint, azureAPIVersion)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating azure request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Ocp-Apim-Subscription-Key", d.apiKey)

	resp, err := d.httpClient.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("azure api call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("azure api status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var apiResp azureAnalyzeResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decoding azure response: %w", err)
	}

	if len(apiResp.Results.Errors) > 0 {
		e := apiResp.Results.Errors[0]
		return nil, fmt.Errorf("azure document error %s: %s", e.Error.Code, e.Error.Message)
	}

	spans := []entity.Span{}
	for _, doc := range apiResp.Results.Documents {
		for _, ent := range doc.Entities {
			if ent.ConfidenceScore < scoreThreshold {
				continue
			}
			spans = append(spans, entity.Span{
				Start:      ent.Offset,
				End:        ent.Offset + ent.Length,
				EntityType: mapAzureCategory(ent.Category),
				Score:      ent.ConfidenceScore,
				Source:     SourceAzure,
			})
		}
	}

	span.SetAttributes(attribute.Int("detect.span_count", len(spans)))
	return spans, nil
}

// mapAzureCategory converts an Azure category to the canonical entity type.
func mapAzureCategory(category string) string {
	if t, ok := azureCategoryMapping[category]; ok {
		return t
	}
	return strings.ToUpper(category)
}
