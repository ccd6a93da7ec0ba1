// File path: internal/extract/providers/gemini.go
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"cloud.google.com/go/vertexai/genai"
	"github.com/xuri/excelize/v2"
	"google.golang.org/api/option"

	"github.com/comexa/docverifier/internal/common"
	"github.com/comexa/docverifier/internal/document"
)

// extractionRules is the system instruction for every extraction call. The
// rules force the model to behave like a deterministic auditor: read every
// page, never borrow values across documents, and answer null rather than
// guess.
const extractionRules = `THIS IS A SHIPPING DOCUMENT ANALYSIS TASK.

YOU ARE ACTING AS A SENIOR BRAZILIAN CUSTOMS BROKER, TRADE COMPLIANCE ANALYST, AND SHIPPING DOCUMENT AUDITOR.

YOUR JOB IS TO EXTRACT DATA ONLY FROM THE DOCUMENT PROVIDED.
THE DOCUMENT MAY BE:
- BILL OF LADING (BL)
- PACKING LIST (PL)
- COMMERCIAL INVOICE (CI)

STRICT EXTRACTION RULES:

GENERAL BEHAVIOR:
- NEVER guess.
- NEVER infer from business logic.
- NEVER copy values from another document type.
- NEVER create missing values.
- NEVER complete truncated text unless the missing characters are physically visible elsewhere in the SAME document.
- ONLY use text physically visible in THIS document.
- If a value is not visible in THIS document, return null.
- This is a deterministic extraction task, not a reasoning task.
- Behave like a Receita Federal auditor validating shipping documents.

MULTI-PAGE RULES (CRITICAL):
- YOU MUST READ ALL PAGES before producing the final JSON.
- DO NOT stop after page 1.
- If the cargo table continues across pages, treat it as ONE continuous table.
- If the same total is repeated on multiple pages, DO NOT sum duplicates.
- Prefer the final total or the main shipment total when clearly labeled.
- If a field appears only on page 2+ and not on page 1, you MUST still extract it.

DOCUMENT INDEPENDENCE:
- Each document is independent.
- BL must be extracted only from BL.
- PL must be extracted only from PL.
- CI must be extracted only from CI.
- Never use Invoice data to fill BL fields.
- Never use BL data to fill Packing List fields.
- Never use Packing List data to fill missing CI fields.

PRIORITY OF LOCATIONS WITHIN THE SAME DOCUMENT:
If the same field appears more than once in the SAME document, use this priority:
1. MAIN shipment / cargo / goods table
2. Description of Goods / Cargo Details block
3. Freight summary / totals box
4. Party block (Shipper / Consignee)
5. Header / footer repetition

IGNORE:
- booking references
- invoice internal item codes
- container numbers
- seal numbers
- SKU
- model/reference numbers unless explicitly labeled as HS / NCM / Commodity Code
- notify party for consignee extraction
- any values that are not clearly associated with the requested field

====================================================
FIELDS TO EXTRACT
====================================================

RETURN ALL FIELDS ALWAYS:

{
  "shipper_name": "...",
  "consignee": "...",
  "cnpj": "...",
  "localization": "...",
  "ncm_4d": "...",
  "ncm_8d": "...",
  "packages": number,
  "gross_weight": number,
  "cbm": number
}

If a field does not physically exist, return null.

====================================================
SHIPPER / CONSIGNEE RULES
====================================================

SHIPPER:
- Extract only the SHIPPER / EXPORTER / CONSIGNOR legal name.

CONSIGNEE:
- Extract only the CONSIGNEE legal name.
- IGNORE Notify Party completely.

NAME NORMALIZATION:
- Convert to lowercase, then capitalize the first letter of each word.
- Remove dots and commas.
- Remove accents and diacritics.
- Remove duplicated spaces.
- Remove symbols like - _ / \ ONLY when they are punctuation noise.
- Keep the legal name faithful to the document.
- DO NOT invent missing words.

NAME RECONCILIATION ACROSS PAGES / BLOCKS:
- If the same party appears multiple times in the SAME document with minor
  formatting differences, OCR noise, or punctuation variation, treat them as
  the SAME entity and return ONE canonical normalized value.
- Prefer the clearest and most complete version physically visible.
- If two names are only similar but not clearly the same legal entity, DO NOT
  merge them.

====================================================
CNPJ RULES
====================================================

- Extract only if a Brazilian CNPJ is physically visible in THIS document.
- CNPJ must have exactly 14 digits after cleanup.
- Accept formatted versions like XX.XXX.XXX/XXXX-XX.
- Remove punctuation and return digits only.
- Ignore CPF.
- If no valid 14-digit CNPJ is visible, return null.

====================================================
LOCALIZATION RULES
====================================================

- Extract only localization physically visible in THIS document.
- If both city and state are clearly visible, return as "City, State".
- If only city is visible and state is missing, return null.
- If only country is visible, return null.
- Never infer state from city.
- Never infer location from CNPJ.

====================================================
NCM / HS CODE RULES (EXTREMELY CRITICAL)
====================================================

The document may label the code as HS, HS CODE, NCM, Commodity Code,
Harmonized Code, or Tariff Code. Search ALL pages for these labels.

REJECT AS NCM: SKU, item number, internal reference, container number,
booking number, seal number, purchase order number, and any code with fewer
than 4 digits after cleanup.

MULTIPLE NCM RULES (CRITICAL):
- If the document contains MORE THAN ONE valid NCM/HS code, RETURN ALL OF THEM.
- Keep the order of appearance from the document.
- Do NOT collapse different NCMs into one.
- Do NOT keep exact duplicates more than once.
- Return multiple values separated by "/" only.
- Example:
  "ncm_4d": "8438/3923/8501"
  "ncm_8d": "84381000/39232190/85011010"

NORMALIZATION LOGIC:
1. Remove dots, spaces, hyphens, and punctuation noise.
2. Keep digits only.
3. A valid code must have AT LEAST 4 digits.

FOR ncm_4d:
- If a code has 4 or more digits, take the FIRST 4 digits.
- Return all distinct valid 4-digit headings in document order, separated by "/".
- If no valid code exists, return null.

FOR ncm_8d:
- If a code has 8 or more digits, take the FIRST 8 digits.
- Return all distinct valid 8-digit codes in document order, separated by "/".
- If the document shows only 4, 5, 6, or 7 digits and never 8, return null.
- NEVER invent the missing 8-digit suffix.

EXAMPLES:
- 84381000 -> ncm_4d = 8438 ; ncm_8d = 84381000
- 84.38.10.00 -> ncm_4d = 8438 ; ncm_8d = 84381000
- 8438 -> ncm_4d = 8438 ; ncm_8d = null
- 84.38.10 -> digits become 843810 -> ncm_4d = 8438 ; ncm_8d = null

====================================================
PACKAGES RULES
====================================================

Look for: Packages, Pkgs, Cartons, Boxes, Volumes, Units.

- Return the TOTAL quantity physically stated in the document.
- Prefer the total from the main shipment table or total line.
- Do not duplicate totals repeated on continuation pages.
- If not physically determinable with confidence, return null.

====================================================
WEIGHT RULES
====================================================

Extract GROSS WEIGHT ONLY. Look for: Gross Weight, G.W., Gross Wt,
Total Gross Weight.

- Normalize to kilograms.
- If weight is already in KG/KGS, return the numeric value only.
- If another unit is used and a reliable conversion is not explicitly
  possible, return null.
- Never use Net Weight instead of Gross Weight.
- If gross weight appears multiple times, prefer the main total.

====================================================
CBM / VOLUME RULES
====================================================

Look for: Measurement, CBM, Volume, M3, Cubic Meters.

- Normalize to cubic meters.
- If the document already shows CBM / M3, return the numeric value only.
- If volume appears in cubic feet, convert using 1 m3 = 35.315 ft3.
- Do not round unless unavoidable.
- If no physically reliable total exists, return null.

====================================================
FINAL OUTPUT RULES
====================================================

Return ONLY valid JSON.
NO markdown.
NO comments.
NO explanation.
NO extra keys.
NO confidence score.
NO notes.`

const extractionUserPrompt = `Extract the fields from the attached shipping document now. Return ONLY the JSON object.`

const (
	defaultGeminiModel    = "gemini-2.5-flash"
	defaultGeminiLocation = "us-central1"
)

// GeminiProvider extracts document fields with a Vertex AI Gemini model,
// sending PDFs and images as inline blobs and spreadsheets as flattened text.
type GeminiProvider struct {
	client    *genai.Client
	model     *genai.GenerativeModel
	modelName string
}

// NewGeminiProvider builds a client against the given project and
// pre-configures the model for deterministic JSON output.
func NewGeminiProvider(ctx context.Context, projectID, location, modelName string) (*GeminiProvider, error) {
	if projectID == "" {
		return nil, errors.New("gemini project id required")
	}
	if location == "" {
		location = defaultGeminiLocation
	}
	if modelName == "" {
		modelName = defaultGeminiModel
	}

	client, err := genai.NewClient(ctx, projectID, location, clientOptionsFromEnv()...)
	if err != nil {
		return nil, fmt.Errorf("genai client: %w", err)
	}

	model := client.GenerativeModel(modelName)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(extractionRules)},
	}
	model.GenerationConfig = genai.GenerationConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0.0),
	}

	logger := common.Logger()
	logger.Info("extract: gemini provider configured", "project", projectID, "location", location, "model", modelName)
	return &GeminiProvider{client: client, model: model, modelName: modelName}, nil
}

// clientOptionsFromEnv builds explicit credential options when the service
// account is injected through the environment. Inline JSON wins over a key
// file path; with neither set the client falls back to application default
// credentials.
func clientOptionsFromEnv() []option.ClientOption {
	creds := strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS_JSON"))
	if creds == "" {
		creds = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}
	if creds == "" {
		return nil
	}
	if strings.HasPrefix(creds, "{") {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(creds))}
	}
	return []option.ClientOption{option.WithCredentialsFile(creds)}
}

func (g *GeminiProvider) Close() error {
	if g == nil || g.client == nil {
		return nil
	}
	return g.client.Close()
}

func (g *GeminiProvider) Name() string {
	return "gemini"
}

func (g *GeminiProvider) Extract(ctx context.Context, path string, role document.Role) *document.Record {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".pdf":
		return g.fromBlob(ctx, path, role, "application/pdf", "Gemini Hybrid PDF")
	case ".jpg", ".jpeg":
		return g.fromBlob(ctx, path, role, "image/jpeg", "Gemini AI Vision (Image)")
	case ".png":
		return g.fromBlob(ctx, path, role, "image/png", "Gemini AI Vision (Image)")
	case ".xlsx", ".xls":
		return g.fromSheet(ctx, path, role)
	default:
		return document.Failed("Unsupported file type: " + ext)
	}
}

// fromBlob sends the raw file bytes to the model so it can read every page
// itself, including scanned documents with no text layer.
func (g *GeminiProvider) fromBlob(ctx context.Context, path string, role document.Role, mimeType, method string) *document.Record {
	logger := common.Logger()
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("extract: cannot read document", "path", path, "error", err)
		return document.Failed("Gemini AI Error: " + err.Error())
	}

	logger.Debug("extract: gemini vision request", "role", role, "mime", mimeType, "bytes", len(data))
	record, raw, err := g.generate(ctx, genai.Blob{MIMEType: mimeType, Data: data})
	if err != nil {
		logger.Warn("extract: gemini vision call failed", "role", role, "error", err)
		return document.Failed("Gemini AI Error: " + err.Error())
	}

	record.ExtractionMethod = method
	record.RawText = truncated(raw, 200)
	return record
}

// fromSheet flattens the first worksheet into pipe-separated rows and sends
// that text instead of the binary workbook.
func (g *GeminiProvider) fromSheet(ctx context.Context, path string, role document.Role) *document.Record {
	logger := common.Logger()
	text, err := sheetText(path)
	if err != nil {
		logger.Warn("extract: cannot read workbook", "path", path, "error", err)
		return document.Failed("Excel Error: " + err.Error())
	}

	logger.Debug("extract: gemini text request", "role", role, "chars", len(text))
	record, _, err := g.generate(ctx, genai.Text("DOCUMENT CONTENT:\n\n"+text))
	if err != nil {
		logger.Warn("extract: gemini text call failed", "role", role, "error", err)
		return document.Failed("Gemini AI Error: " + err.Error())
	}

	record.ExtractionMethod = "Gemini AI Text (Excel)"
	record.RawText = truncated(text, 500)
	return record
}

func (g *GeminiProvider) generate(ctx context.Context, part genai.Part) (*document.Record, string, error) {
	resp, err := g.model.GenerateContent(ctx, part, genai.Text(extractionUserPrompt))
	if err != nil {
		return nil, "", fmt.Errorf("generate content: %w", err)
	}
	text := responseText(resp)
	if text == "" {
		return nil, "", errors.New("empty model response")
	}
	record, err := parseFields(text)
	if err != nil {
		return nil, "", err
	}
	return record, text, nil
}

// responseText concatenates the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	return b.String()
}

// geminiFields mirrors the JSON object the model is instructed to return.
// The numeric slots are interface{} because models occasionally quote
// numbers despite the schema in the prompt.
type geminiFields struct {
	ShipperName  *string     `json:"shipper_name"`
	Consignee    *string     `json:"consignee"`
	CNPJ         *string     `json:"cnpj"`
	Localization *string     `json:"localization"`
	NCM4         *string     `json:"ncm_4d"`
	NCM8         *string     `json:"ncm_8d"`
	Packages     interface{} `json:"packages"`
	GrossWeight  interface{} `json:"gross_weight"`
	CBM          interface{} `json:"cbm"`
}

// parseFields locates the JSON object inside the response text and maps it
// onto a record with 0.9 confidence.
func parseFields(text string) (*document.Record, error) {
	body, err := jsonObject(text)
	if err != nil {
		return nil, err
	}
	var fields geminiFields
	if err := json.Unmarshal([]byte(body), &fields); err != nil {
		return nil, fmt.Errorf("parse model response: %w", err)
	}
	confidence := 0.9
	return &document.Record{
		ShipperName:  fields.ShipperName,
		Consignee:    fields.Consignee,
		CNPJ:         fields.CNPJ,
		Localization: fields.Localization,
		NCM4:         fields.NCM4,
		NCM8:         fields.NCM8,
		Packages:     asInt(fields.Packages),
		GrossWeight:  asFloat(fields.GrossWeight),
		CBM:          asFloat(fields.CBM),
		Confidence:   &confidence,
	}, nil
}

// jsonObject returns the slice of text from the first "{" through the last
// "}", which tolerates stray prose around the object.
func jsonObject(text string) (string, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return "", errors.New("no JSON object in model response")
	}
	return text[start : end+1], nil
}

func asInt(v interface{}) *int {
	switch n := v.(type) {
	case float64:
		i := int(n)
		return &i
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return nil
		}
		i := int(f)
		return &i
	}
	return nil
}

func asFloat(v interface{}) *float64 {
	switch n := v.(type) {
	case float64:
		f := n
		return &f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return nil
		}
		return &f
	}
	return nil
}

func truncated(text string, limit int) *string {
	if text == "" {
		return nil
	}
	if len(text) > limit {
		text = text[:limit]
	}
	return &text
}

// sheetText renders the first worksheet as one pipe-separated line per row,
// skipping rows that are entirely blank.
func sheetText(path string) (string, error) {
	book, err := excelize.OpenFile(path)
	if err != nil {
		return "", err
	}
	defer book.Close()

	sheets := book.GetSheetList()
	if len(sheets) == 0 {
		return "", errors.New("workbook has no sheets")
	}
	rows, err := book.GetRows(sheets[0])
	if err != nil {
		return "", err
	}

	var lines []string
	for _, row := range rows {
		line := strings.Join(row, " | ")
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n"), nil
}
