package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	defaultTelegramAPIBase  = "https://api.telegram.org"
	telegramMaxDownloadSize = 20 * 1024 * 1024
	telegramMaxResponseSize = 8 * 1024 * 1024
)

var telegramAllowedUpdates = []string{"message", "business_connection", "business_message"}

type telegramAPI struct {
	http    *http.Client
	baseURL string
	token   string
	// maxResponse caps the Bot API envelope read by do.
	maxResponse int64
}

func newTelegramAPI(httpClient *http.Client, baseURL, token string) *telegramAPI {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		baseURL = defaultTelegramAPIBase
	}
	return &telegramAPI{
		http:        httpClient,
		baseURL:     strings.TrimRight(baseURL, "/"),
		token:       token,
		maxResponse: telegramMaxResponseSize,
	}
}

type telegramUpdate struct {
	UpdateID           int64                       `json:"update_id"`
	Message            *telegramMessage            `json:"message,omitempty"`
	BusinessConnection *telegramBusinessConnection `json:"business_connection,omitempty"`
	BusinessMessage    *telegramMessage            `json:"business_message,omitempty"`
}

type telegramMessage struct {
	MessageID            int64          `json:"message_id"`
	Date                 int64          `json:"date,omitempty"`
	Chat                 *telegramChat  `json:"chat,omitempty"`
	From                 *telegramUser  `json:"from,omitempty"`
	Text                 string         `json:"text,omitempty"`
	Caption              string         `json:"caption,omitempty"`
	Voice                *telegramVoice `json:"voice,omitempty"`
	Audio                *telegramVoice `json:"audio,omitempty"`
	BusinessConnectionID string         `json:"business_connection_id,omitempty"`
}

type telegramChat struct {
	ID        int64  `json:"id"`
	Type      string `json:"type,omitempty"` // private|group|supergroup|channel
	FirstName string `json:"first_name,omitempty"`
	Username  string `json:"username,omitempty"`
}

type telegramUser struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot,omitempty"`
	Username  string `json:"username,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

// telegramVoice covers both voice notes and audio attachments.
type telegramVoice struct {
	FileID   string `json:"file_id"`
	Duration int    `json:"duration,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	FileName string `json:"file_name,omitempty"`
	FileSize int64  `json:"file_size,omitempty"`
}

type telegramBusinessConnection struct {
	ID         string       `json:"id"`
	User       telegramUser `json:"user"`
	UserChatID int64        `json:"user_chat_id"`
	Date       int64        `json:"date,omitempty"`
	IsEnabled  bool         `json:"is_enabled"`
}

type telegramFile struct {
	FileID   string `json:"file_id"`
	FileSize int64  `json:"file_size,omitempty"`
	FilePath string `json:"file_path,omitempty"`
}

func telegramDisplayName(u *telegramUser) string {
	if u == nil {
		return ""
	}
	first := strings.TrimSpace(u.FirstName)
	last := strings.TrimSpace(u.LastName)
	username := strings.TrimSpace(u.Username)
	switch {
	case first != "" && last != "":
		return first + " " + last
	case first != "":
		return first
	case last != "":
		return last
	case username != "":
		return "@" + username
	default:
		return ""
	}
}

// telegramEnvelope is the common Bot API response wrapper.
type telegramEnvelope struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result,omitempty"`
	ErrorCode   int             `json:"error_code,omitempty"`
	Description string          `json:"description,omitempty"`
}

type telegramRequestError struct {
	Method      string
	StatusCode  int
	ErrorCode   int
	Description string
	Body        string
}

func (e *telegramRequestError) Error() string {
	if e == nil {
		return "telegram request failed"
	}
	prefix := "telegram"
	if e.Method != "" {
		prefix = "telegram " + e.Method
	}
	if desc := strings.TrimSpace(e.Description); desc != "" {
		if e.StatusCode > 0 {
			return fmt.Sprintf("%s http %d: %s", prefix, e.StatusCode, desc)
		}
		return prefix + ": " + desc
	}
	body := strings.TrimSpace(e.Body)
	switch {
	case e.StatusCode > 0 && body != "":
		return fmt.Sprintf("%s http %d: %s", prefix, e.StatusCode, body)
	case e.StatusCode > 0:
		return fmt.Sprintf("%s http %d", prefix, e.StatusCode)
	case body != "":
		return prefix + ": " + body
	}
	return prefix + " request failed"
}

func isTelegramPollTimeoutError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(msg, "context deadline exceeded") ||
		strings.Contains(msg, "client.timeout exceeded")
}

func (api *telegramAPI) methodURL(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", api.baseURL, api.token, method)
}

// do executes req and decodes the envelope result into out (which may be nil).
func (api *telegramAPI) do(req *http.Request, method string, out any) error {
	resp, err := api.http.Do(req)
	if err != nil {
		return err
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, api.maxResponse+1))
	_ = resp.Body.Close()
	if err != nil {
		return fmt.Errorf("telegram %s: read response: %w", method, err)
	}
	if int64(len(raw)) > api.maxResponse {
		return fmt.Errorf("telegram %s: response exceeds %d bytes", method, api.maxResponse)
	}

	var env telegramEnvelope
	_ = json.Unmarshal(raw, &env)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || !env.OK {
		return &telegramRequestError{
			Method:      method,
			StatusCode:  resp.StatusCode,
			ErrorCode:   env.ErrorCode,
			Description: env.Description,
			Body:        strings.TrimSpace(string(raw)),
		}
	}
	if out == nil || len(env.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("telegram %s: decode result: %w", method, err)
	}
	return nil
}

func (api *telegramAPI) postJSON(ctx context.Context, method string, body any, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, api.methodURL(method), bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return api.do(req, method, out)
}

func (api *telegramAPI) getMe(ctx context.Context) (*telegramUser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, api.methodURL("getMe"), nil)
	if err != nil {
		return nil, err
	}
	var me telegramUser
	if err := api.do(req, "getMe", &me); err != nil {
		return nil, err
	}
	return &me, nil
}

func (api *telegramAPI) getUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]telegramUpdate, int64, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	secs := int(timeout.Seconds())
	if secs < 1 {
		secs = 1
	}
	allowed, _ := json.Marshal(telegramAllowedUpdates)
	q := url.Values{}
	q.Set("timeout", strconv.Itoa(secs))
	q.Set("allowed_updates", string(allowed))
	if offset > 0 {
		q.Set("offset", strconv.FormatInt(offset, 10))
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout+5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, api.methodURL("getUpdates")+"?"+q.Encode(), nil)
	if err != nil {
		return nil, offset, err
	}
	var updates []telegramUpdate
	if err := api.do(req, "getUpdates", &updates); err != nil {
		return nil, offset, err
	}

	next := offset
	for _, u := range updates {
		if u.UpdateID >= next {
			next = u.UpdateID + 1
		}
	}
	return updates, next, nil
}

func (api *telegramAPI) getBusinessConnection(ctx context.Context, id string) (*telegramBusinessConnection, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("missing business_connection_id")
	}
	var conn telegramBusinessConnection
	if err := api.postJSON(ctx, "getBusinessConnection", map[string]string{"business_connection_id": id}, &conn); err != nil {
		return nil, err
	}
	return &conn, nil
}

func (api *telegramAPI) getFile(ctx context.Context, fileID string) (*telegramFile, error) {
	fileID = strings.TrimSpace(fileID)
	if fileID == "" {
		return nil, fmt.Errorf("missing file_id")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, api.methodURL("getFile")+"?file_id="+url.QueryEscape(fileID), nil)
	if err != nil {
		return nil, err
	}
	var f telegramFile
	if err := api.do(req, "getFile", &f); err != nil {
		return nil, err
	}
	if strings.TrimSpace(f.FilePath) == "" {
		return nil, fmt.Errorf("telegram getFile: missing file_path")
	}
	return &f, nil
}

// downloadFile fetches a file previously resolved with getFile into memory.
func (api *telegramAPI) downloadFile(ctx context.Context, filePath string, maxBytes int64) ([]byte, error) {
	filePath = strings.TrimSpace(filePath)
	if filePath == "" {
		return nil, fmt.Errorf("missing file_path")
	}
	if maxBytes <= 0 {
		maxBytes = telegramMaxDownloadSize
	}

	u := fmt.Sprintf("%s/file/bot%s/%s", api.baseURL, api.token, strings.TrimLeft(filePath, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := api.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("telegram download http %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("telegram file too large (>%d bytes)", maxBytes)
	}
	return data, nil
}

type telegramReplyParameters struct {
	MessageID int64 `json:"message_id"`
}

type telegramSendMessageRequest struct {
	BusinessConnectionID string                   `json:"business_connection_id,omitempty"`
	ChatID               int64                    `json:"chat_id"`
	Text                 string                   `json:"text"`
	ReplyParameters      *telegramReplyParameters `json:"reply_parameters,omitempty"`
}

type telegramSendChatActionRequest struct {
	BusinessConnectionID string `json:"business_connection_id,omitempty"`
	ChatID               int64  `json:"chat_id"`
	Action               string `json:"action"`
}

func replyParameters(messageID int64) *telegramReplyParameters {
	if messageID <= 0 {
		return nil
	}
	return &telegramReplyParameters{MessageID: messageID}
}

func (api *telegramAPI) sendMessage(ctx context.Context, req telegramSendMessageRequest) error {
	if strings.TrimSpace(req.Text) == "" {
		return fmt.Errorf("telegram sendMessage: empty text")
	}
	return api.postJSON(ctx, "sendMessage", req, nil)
}

func (api *telegramAPI) sendChatAction(ctx context.Context, req telegramSendChatActionRequest) error {
	return api.postJSON(ctx, "sendChatAction", req, nil)
}

// sendVoice uploads the audio file at filePath as a voice message.
func (api *telegramAPI) sendVoice(ctx context.Context, chatID int64, businessConnectionID string, replyTo int64, filePath string) error {
	filePath = strings.TrimSpace(filePath)
	if filePath == "" {
		return fmt.Errorf("missing file path")
	}

	f, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return err
	}
	if st.IsDir() {
		return fmt.Errorf("path is a directory: %s", filePath)
	}
	filename := filepath.Base(filePath)

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		defer pw.Close()
		defer mw.Close()

		_ = mw.WriteField("chat_id", strconv.FormatInt(chatID, 10))
		if businessConnectionID != "" {
			_ = mw.WriteField("business_connection_id", businessConnectionID)
		}
		if rp := replyParameters(replyTo); rp != nil {
			b, _ := json.Marshal(rp)
			_ = mw.WriteField("reply_parameters", string(b))
		}

		part, err := mw.CreateFormFile("voice", filename)
		if err != nil {
			_ = pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, f); err != nil {
			_ = pw.CloseWithError(err)
			return
		}
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, api.methodURL("sendVoice"), pr)
	if err != nil {
		_ = pr.Close()
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	err = api.do(req, "sendVoice", nil)
	_ = pr.Close()
	return err
}
