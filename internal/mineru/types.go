package mineru

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"ocrbatch/internal/batch"
)

// FileSpec names one file in a batch upload request. DataID is echoed back in
// status results and carries the content fingerprint.
type FileSpec struct {
	Name   string `json:"name"`
	DataID string `json:"data_id,omitempty"`
	IsOCR  *bool  `json:"is_ocr,omitempty"`
}

// BatchRequest asks the service for one signed upload URL per file.
type BatchRequest struct {
	Files         []FileSpec `json:"files"`
	ModelVersion  string     `json:"model_version,omitempty"`
	EnableFormula *bool      `json:"enable_formula,omitempty"`
	EnableTable   *bool      `json:"enable_table,omitempty"`
	Language      string     `json:"language,omitempty"`
}

// UploadBatch is the service's answer to a BatchRequest. FileURLs is ordered
// like the request's Files.
type UploadBatch struct {
	BatchID  string   `json:"batch_id"`
	FileURLs []string `json:"file_urls"`
}

// ExtractProgress reports page progress for a running item.
type ExtractProgress struct {
	ExtractedPages int    `json:"extracted_pages"`
	TotalPages     int    `json:"total_pages"`
	StartTime      string `json:"start_time"`
}

// ExtractResult is the status of one file in a batch.
type ExtractResult struct {
	FileName   string           `json:"file_name"`
	DataID     string           `json:"data_id"`
	State      string           `json:"state"`
	ErrMsg     string           `json:"err_msg"`
	FullZipURL string           `json:"full_zip_url"`
	Progress   *ExtractProgress `json:"extract_progress,omitempty"`
}

// Status converts the remote result into the pipeline's status value.
func (r ExtractResult) Status() batch.Status {
	status := batch.Status{
		Name:        r.FileName,
		State:       batch.ParseRemoteState(r.State),
		RemoteState: r.State,
		BundleURL:   strings.TrimSpace(r.FullZipURL),
		Message:     strings.TrimSpace(r.ErrMsg),
	}
	if r.Progress != nil {
		status.ExtractedPages = r.Progress.ExtractedPages
		status.TotalPages = r.Progress.TotalPages
	}
	return status
}

// BatchResults is the level-triggered status of every file in a batch.
type BatchResults struct {
	BatchID string          `json:"batch_id"`
	Results []ExtractResult `json:"extract_result"`
}

type envelope struct {
	Code    apiCode         `json:"code"`
	MsgCode string          `json:"msgCode"`
	Msg     string          `json:"msg"`
	TraceID string          `json:"trace_id"`
	Data    json.RawMessage `json:"data"`
}

func (e envelope) ok() bool {
	return e.Code.ok() && (e.MsgCode == "" || e.MsgCode == "0")
}

func (e envelope) code() string {
	if !e.Code.ok() {
		return string(e.Code)
	}
	return e.MsgCode
}

// apiCode accepts both numeric and string result codes.
type apiCode string

func (c *apiCode) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*c = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		s, err := strconv.Unquote(string(data))
		if err != nil {
			return err
		}
		*c = apiCode(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*c = apiCode(n.String())
	return nil
}

func (c apiCode) ok() bool {
	return c == "" || c == "0"
}

// Bool returns a pointer to v for optional request flags.
func Bool(v bool) *bool {
	return &v
}
