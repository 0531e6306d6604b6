package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Remote is the server surface a Session needs.
type Remote interface {
	UpsertKey(ctx context.Context, publicKey, fingerprint, deviceLabel string) (KeyRecord, error)
	ActiveKey(ctx context.Context, userID uuid.UUID) (KeyRecord, error)
	KeyByID(ctx context.Context, keyID uuid.UUID) (KeyRecord, error)

	Conversation(ctx context.Context, id uuid.UUID) (Conversation, error)
	Conversations(ctx context.Context, kind string, archived bool) ([]Conversation, error)
	OpenPersonal(ctx context.Context, recipientID uuid.UUID) (Conversation, error)
	CreateGroup(ctx context.Context, name string, memberIDs []uuid.UUID) (Conversation, error)
	MarkRead(ctx context.Context, conversationID uuid.UUID) error

	Messages(ctx context.Context, conversationID uuid.UUID, limit, offset int) ([]Message, error)
	SendMessage(ctx context.Context, conversationID uuid.UUID, msg OutgoingMessage) (Message, error)
	DeleteMessage(ctx context.Context, messageID uuid.UUID) error

	UploadAttachment(ctx context.Context, conversationID uuid.UUID, fileName, contentType string, body io.Reader) (Attachment, error)
	Attachments(ctx context.Context, ids []uuid.UUID) ([]Attachment, error)

	Unread(ctx context.Context) (int64, error)
}

// HTTPRemote talks to chatd over its JSON API.
type HTTPRemote struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewHTTPRemote(baseURL, token string, client *http.Client) *HTTPRemote {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPRemote{baseURL: normalizeBaseURL(baseURL), token: strings.TrimSpace(token), client: client}
}

type messagePage struct {
	Messages []Message `json:"messages"`
}

func (r *HTTPRemote) UpsertKey(ctx context.Context, publicKey, fingerprint, deviceLabel string) (KeyRecord, error) {
	var out KeyRecord
	body := map[string]string{"publicKey": publicKey, "fingerprint": fingerprint, "deviceLabel": deviceLabel}
	return out, r.doJSON(ctx, http.MethodPut, "/v1/keys", body, &out)
}

func (r *HTTPRemote) ActiveKey(ctx context.Context, userID uuid.UUID) (KeyRecord, error) {
	var out KeyRecord
	return out, r.doJSON(ctx, http.MethodGet, "/v1/keys/users/"+userID.String(), nil, &out)
}

func (r *HTTPRemote) KeyByID(ctx context.Context, keyID uuid.UUID) (KeyRecord, error) {
	var out KeyRecord
	return out, r.doJSON(ctx, http.MethodGet, "/v1/keys/id/"+keyID.String(), nil, &out)
}

func (r *HTTPRemote) Conversation(ctx context.Context, id uuid.UUID) (Conversation, error) {
	var out Conversation
	return out, r.doJSON(ctx, http.MethodGet, "/v1/conversations/"+id.String(), nil, &out)
}

func (r *HTTPRemote) Conversations(ctx context.Context, kind string, archived bool) ([]Conversation, error) {
	q := url.Values{}
	if kind != "" {
		q.Set("type", kind)
	}
	if archived {
		q.Set("archived", "true")
	}
	path := "/v1/conversations"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out []Conversation
	return out, r.doJSON(ctx, http.MethodGet, path, nil, &out)
}

func (r *HTTPRemote) OpenPersonal(ctx context.Context, recipientID uuid.UUID) (Conversation, error) {
	var out Conversation
	body := map[string]string{"recipientId": recipientID.String()}
	return out, r.doJSON(ctx, http.MethodPost, "/v1/conversations/personal", body, &out)
}

func (r *HTTPRemote) CreateGroup(ctx context.Context, name string, memberIDs []uuid.UUID) (Conversation, error) {
	var out Conversation
	body := struct {
		Name      string      `json:"name"`
		MemberIDs []uuid.UUID `json:"memberIds"`
	}{name, memberIDs}
	return out, r.doJSON(ctx, http.MethodPost, "/v1/conversations/groups", body, &out)
}

func (r *HTTPRemote) MarkRead(ctx context.Context, conversationID uuid.UUID) error {
	return r.doJSON(ctx, http.MethodPost, "/v1/conversations/"+conversationID.String()+"/read", nil, nil)
}

func (r *HTTPRemote) Messages(ctx context.Context, conversationID uuid.UUID, limit, offset int) ([]Message, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	var page messagePage
	err := r.doJSON(ctx, http.MethodGet, "/v1/conversations/"+conversationID.String()+"/messages?"+q.Encode(), nil, &page)
	return page.Messages, err
}

func (r *HTTPRemote) SendMessage(ctx context.Context, conversationID uuid.UUID, msg OutgoingMessage) (Message, error) {
	var out Message
	return out, r.doJSON(ctx, http.MethodPost, "/v1/conversations/"+conversationID.String()+"/messages", msg, &out)
}

func (r *HTTPRemote) DeleteMessage(ctx context.Context, messageID uuid.UUID) error {
	return r.doJSON(ctx, http.MethodDelete, "/v1/messages/"+messageID.String(), nil, nil)
}

func (r *HTTPRemote) UploadAttachment(ctx context.Context, conversationID uuid.UUID, fileName, contentType string, body io.Reader) (Attachment, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		header := make(map[string][]string)
		header["Content-Disposition"] = []string{fmt.Sprintf(`form-data; name="file"; filename=%q`, fileName)}
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		header["Content-Type"] = []string{contentType}
		part, err := mw.CreatePart(header)
		if err == nil {
			_, err = io.Copy(part, body)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := r.newRequest(ctx, http.MethodPost, "/v1/conversations/"+conversationID.String()+"/attachments", pr)
	if err != nil {
		_ = pr.CloseWithError(err)
		return Attachment{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	var out Attachment
	return out, r.do(req, &out)
}

func (r *HTTPRemote) Attachments(ctx context.Context, ids []uuid.UUID) ([]Attachment, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = id.String()
	}
	var out []Attachment
	return out, r.doJSON(ctx, http.MethodGet, "/v1/attachments?ids="+url.QueryEscape(strings.Join(parts, ",")), nil, &out)
}

func (r *HTTPRemote) Unread(ctx context.Context) (int64, error) {
	var out struct {
		Unread int64 `json:"unread"`
	}
	return out.Unread, r.doJSON(ctx, http.MethodGet, "/v1/unread", nil, &out)
}

func (r *HTTPRemote) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := r.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return r.do(req, out)
}

func (r *HTTPRemote) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, joinURL(r.baseURL, path), body)
	if err != nil {
		return nil, err
	}
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}
	return req, nil
}

func (r *HTTPRemote) do(req *http.Request, out any) error {
	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if len(data) == 0 {
			data = []byte(resp.Status)
		}
		return &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func joinURL(base, path string) string {
	return normalizeBaseURL(base) + path
}

func normalizeBaseURL(in string) string {
	return strings.TrimRight(strings.TrimSpace(in), "/")
}
