package redcap

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rm4health/dashboard/pkg/common/logger"
	"github.com/rm4health/dashboard/pkg/common/models"
	"github.com/rm4health/dashboard/pkg/gateway/httpclient"
)

// Client is a thin client for the REDCap export API. All project data comes
// through the single API endpoint as form-encoded POSTs authenticated by
// the project token.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	retries    int
	backoff    time.Duration
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

func WithRetries(attempts int, backoff time.Duration) Option {
	return func(cl *Client) {
		cl.retries = attempts
		cl.backoff = backoff
	}
}

func NewClient(baseURL, token string, timeout time.Duration, opts ...Option) *Client {
	client := &Client{
		baseURL:    baseURL,
		token:      token,
		httpClient: httpclient.New(timeout),
		retries:    3,
		backoff:    250 * time.Millisecond,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client
}

// ExportRecords pulls every record of the project as flat raw records.
func (c *Client) ExportRecords(ctx context.Context) ([]models.RawRecord, error) {
	params := url.Values{}
	params.Set("content", "record")
	params.Set("format", "json")
	params.Set("type", "flat")
	params.Set("rawOrLabel", "raw")
	params.Set("exportCheckboxLabel", "false")

	body, err := c.post(ctx, "record export", params)
	if err != nil {
		return nil, err
	}

	var rows []map[string]interface{}
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, &FetchError{Op: "record export", Err: fmt.Errorf("decode response: %w", err)}
	}

	records := make([]models.RawRecord, 0, len(rows))
	for _, row := range rows {
		record := make(models.RawRecord, len(row))
		for field, value := range row {
			record[field] = stringify(value)
		}
		records = append(records, record)
	}

	logger.Log.WithField("records", len(records)).Debug("Exported REDCap records")
	return records, nil
}

// ExportDictionary pulls the project metadata and converts it into the
// data dictionary the normalizer decodes against.
func (c *Client) ExportDictionary(ctx context.Context) (models.DataDictionary, error) {
	params := url.Values{}
	params.Set("content", "metadata")
	params.Set("format", "json")

	body, err := c.post(ctx, "metadata export", params)
	if err != nil {
		return models.DataDictionary{}, err
	}

	var rows []metadataRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return models.DataDictionary{}, &FetchError{Op: "metadata export", Err: fmt.Errorf("decode response: %w", err)}
	}

	dict := models.DataDictionary{Fields: make(map[string]models.DictionaryField, len(rows))}
	for _, row := range rows {
		field := models.DictionaryField{
			Name:       row.FieldName,
			Instrument: row.FormName,
			Type:       resolveFieldType(row),
			Label:      row.FieldLabel,
		}
		if field.Type == models.FieldTypeCategorical || field.Type == models.FieldTypeCheckbox {
			field.Choices = parseChoices(row.SelectChoices)
		}
		dict.Fields[field.Name] = field
	}

	logger.Log.WithField("fields", len(dict.Fields)).Debug("Exported REDCap data dictionary")
	return dict, nil
}

func (c *Client) post(ctx context.Context, op string, params url.Values) ([]byte, error) {
	params.Set("token", c.token)

	var body []byte
	err := httpclient.Retry(ctx, c.retries, c.backoff, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, strings.NewReader(params.Encode()))
		if err != nil {
			return &FetchError{Op: op, Err: err}
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return &FetchError{Op: op, Err: err}
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			io.Copy(io.Discard, resp.Body)
			return &FetchError{Op: op, StatusCode: resp.StatusCode}
		}

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return &FetchError{Op: op, Err: err}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

type metadataRow struct {
	FieldName      string `json:"field_name"`
	FormName       string `json:"form_name"`
	FieldType      string `json:"field_type"`
	FieldLabel     string `json:"field_label"`
	SelectChoices  string `json:"select_choices_or_calculations"`
	TextValidation string `json:"text_validation_type_or_show_slider_number"`
}

func resolveFieldType(row metadataRow) models.FieldType {
	switch row.FieldType {
	case "radio", "dropdown":
		return models.FieldTypeCategorical
	case "checkbox":
		return models.FieldTypeCheckbox
	case "yesno", "truefalse":
		return models.FieldTypeYesNo
	case "calc", "slider":
		return models.FieldTypeNumber
	}

	switch {
	case strings.HasPrefix(row.TextValidation, "date"), strings.HasPrefix(row.TextValidation, "datetime"):
		return models.FieldTypeDate
	case row.TextValidation == "number", row.TextValidation == "integer":
		return models.FieldTypeNumber
	}
	return models.FieldTypeText
}

// parseChoices decodes REDCap's "1, Home | 2, Nursing facility" choice
// string into a code -> label map.
func parseChoices(raw string) map[string]string {
	choices := make(map[string]string)
	for _, pair := range strings.Split(raw, "|") {
		parts := strings.SplitN(pair, ",", 2)
		if len(parts) != 2 {
			continue
		}
		code := strings.TrimSpace(parts[0])
		label := strings.TrimSpace(parts[1])
		if code != "" {
			choices[code] = label
		}
	}
	return choices
}

func stringify(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		// REDCap numbers arrive without fractional noise for integers
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%g", v)
	case bool:
		if v {
			return "1"
		}
		return "0"
	default:
		return fmt.Sprintf("%v", v)
	}
}
