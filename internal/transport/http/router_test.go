package http

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"e2eechat/internal/attachments"
	"e2eechat/internal/authz"
	"e2eechat/internal/conversations"
	"e2eechat/internal/domain"
	"e2eechat/internal/dto"
	"e2eechat/internal/jwtsigner"
	"e2eechat/internal/keys"
	"e2eechat/internal/messages"
	"e2eechat/internal/observability/metrics"
	"e2eechat/internal/store/storetest"
	"e2eechat/pkg/cryptocore"

	"github.com/google/uuid"
)

const testSecret = "router-test-secret-0123"

func TestMain(m *testing.M) {
	metrics.MustRegister("router-test")
	os.Exit(m.Run())
}

type env struct {
	t      *testing.T
	srv    *httptest.Server
	signer *jwtsigner.Signer
}

type user struct {
	caller domain.Caller
	token  string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	st := storetest.Open(t)
	objects, err := attachments.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("file store: %v", err)
	}
	signer, err := jwtsigner.New(testSecret, "chatd")
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	handler := NewRouter(Deps{
		Keys:           keys.New(st, nil),
		Conversations:  conversations.New(st),
		Messages:       messages.New(st, nil),
		Attachments:    attachments.New(st, objects, attachments.Config{MaxUploadBytes: 1 << 20}),
		Auth:           authz.NewHMACValidator(testSecret, "chatd"),
		MaxUploadBytes: 1 << 20,
	})
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &env{t: t, srv: srv, signer: signer}
}

func (e *env) user(company uuid.UUID) user {
	e.t.Helper()
	c := domain.Caller{UserID: uuid.New(), CompanyID: company}
	tok, err := e.signer.Sign(c.UserID, c.CompanyID, time.Hour)
	if err != nil {
		e.t.Fatalf("sign: %v", err)
	}
	return user{caller: c, token: tok}
}

func (e *env) do(u user, method, path string, body any, out any) int {
	e.t.Helper()
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			e.t.Fatalf("marshal: %v", err)
		}
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, e.srv.URL+path, rdr)
	if err != nil {
		e.t.Fatalf("request: %v", err)
	}
	if u.token != "" {
		req.Header.Set("Authorization", "Bearer "+u.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return e.send(req, out)
}

func (e *env) send(req *http.Request, out any) int {
	e.t.Helper()
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		e.t.Fatalf("%s %s: %v", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			e.t.Fatalf("decode %s: %v", req.URL.Path, err)
		}
	}
	return resp.StatusCode
}

func (e *env) expect(got, want int, what string) {
	e.t.Helper()
	if got != want {
		e.t.Fatalf("%s: status %d, want %d", what, got, want)
	}
}

func sealed(t *testing.T, text string) dto.SendMessageRequest {
	t.Helper()
	key, _, err := cryptocore.NewContentKey()
	if err != nil {
		t.Fatalf("content key: %v", err)
	}
	s, err := key.Encrypt([]byte(text))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	ct, nonce := s.Encode()
	return dto.SendMessageRequest{Ciphertext: ct, Nonce: nonce}
}

func TestHealthAndAuth(t *testing.T) {
	e := newEnv(t)
	e.expect(e.do(user{}, http.MethodGet, "/healthz", nil, nil), http.StatusOK, "healthz")
	e.expect(e.do(user{}, http.MethodGet, "/v1/unread", nil, nil), http.StatusUnauthorized, "no token")
	e.expect(e.do(user{token: "garbage"}, http.MethodGet, "/v1/unread", nil, nil), http.StatusUnauthorized, "bad token")

	var unread dto.UnreadResponse
	e.expect(e.do(e.user(uuid.New()), http.MethodGet, "/v1/unread", nil, &unread), http.StatusOK, "unread")
	if unread.Unread != 0 {
		t.Fatalf("fresh user unread = %d", unread.Unread)
	}
}

func TestKeyRegistryRoutes(t *testing.T) {
	e := newEnv(t)
	alice := e.user(uuid.New())
	id, err := cryptocore.GenerateIdentity()
	if err != nil {
		t.Fatalf("identity: %v", err)
	}
	exported, err := id.PublicKey().Export()
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	req := dto.UpsertKeyRequest{PublicKey: exported, Fingerprint: id.Fingerprint()}

	var created dto.PublicKeyResponse
	e.expect(e.do(alice, http.MethodPut, "/v1/keys", req, &created), http.StatusCreated, "first upsert")
	if created.Outcome != string(keys.OutcomeCreated) || created.Fingerprint != id.Fingerprint() {
		t.Fatalf("unexpected upsert response: %+v", created)
	}
	var again dto.PublicKeyResponse
	e.expect(e.do(alice, http.MethodPut, "/v1/keys", req, &again), http.StatusOK, "repeat upsert")
	if again.ID != created.ID {
		t.Fatalf("repeat upsert changed key id: %s -> %s", created.ID, again.ID)
	}

	bob := e.user(alice.caller.CompanyID)
	var fetched dto.PublicKeyResponse
	e.expect(e.do(bob, http.MethodGet, "/v1/keys/users/"+alice.caller.UserID.String(), nil, &fetched), http.StatusOK, "peer key")
	if fetched.PublicKey != created.PublicKey {
		t.Fatalf("peer key mismatch")
	}
	e.expect(e.do(bob, http.MethodGet, "/v1/keys/id/"+created.ID, nil, nil), http.StatusOK, "key by id")
	e.expect(e.do(bob, http.MethodGet, "/v1/keys/me", nil, nil), http.StatusNotFound, "bob has no key")
	e.expect(e.do(bob, http.MethodGet, "/v1/keys/users/not-a-uuid", nil, nil), http.StatusBadRequest, "bad user id")
	e.expect(e.do(bob, http.MethodPut, "/v1/keys", dto.UpsertKeyRequest{PublicKey: "nope"}, nil), http.StatusBadRequest, "bad key")
}

func TestConversationAndMessageRoutes(t *testing.T) {
	e := newEnv(t)
	company := uuid.New()
	alice, bob, mallory := e.user(company), e.user(company), e.user(company)

	var conv dto.ConversationResponse
	e.expect(e.do(alice, http.MethodPost, "/v1/conversations/personal",
		dto.CreatePersonalRequest{RecipientID: bob.caller.UserID.String()}, &conv), http.StatusOK, "open personal")
	var same dto.ConversationResponse
	e.expect(e.do(bob, http.MethodPost, "/v1/conversations/personal",
		dto.CreatePersonalRequest{RecipientID: alice.caller.UserID.String()}, &same), http.StatusOK, "open personal reverse")
	if same.ID != conv.ID {
		t.Fatalf("personal conversation not shared: %s vs %s", conv.ID, same.ID)
	}

	base := "/v1/conversations/" + conv.ID
	msgReq := sealed(t, "ping")
	var msg dto.MessageResponse
	e.expect(e.do(alice, http.MethodPost, base+"/messages", msgReq, &msg), http.StatusCreated, "send")
	e.expect(e.do(alice, http.MethodPost, base+"/messages", msgReq, nil), http.StatusConflict, "nonce reuse")
	e.expect(e.do(mallory, http.MethodPost, base+"/messages", sealed(t, "x"), nil), http.StatusNotFound, "outsider send")
	e.expect(e.do(alice, http.MethodPost, base+"/messages", dto.SendMessageRequest{Ciphertext: "!!", Nonce: "AA=="}, nil), http.StatusBadRequest, "bad base64")

	var unread dto.UnreadResponse
	e.expect(e.do(bob, http.MethodGet, "/v1/unread", nil, &unread), http.StatusOK, "bob unread")
	if unread.Unread != 1 {
		t.Fatalf("bob unread = %d, want 1", unread.Unread)
	}
	e.expect(e.do(bob, http.MethodPost, base+"/read", nil, nil), http.StatusNoContent, "mark read")
	e.expect(e.do(bob, http.MethodGet, "/v1/unread", nil, &unread), http.StatusOK, "bob unread after read")
	if unread.Unread != 0 {
		t.Fatalf("bob unread after read = %d", unread.Unread)
	}

	e.expect(e.do(bob, http.MethodDelete, "/v1/messages/"+msg.ID, nil, nil), http.StatusForbidden, "non-sender delete")
	e.expect(e.do(alice, http.MethodDelete, "/v1/messages/"+msg.ID, nil, nil), http.StatusNoContent, "sender delete")

	var page dto.MessagePage
	e.expect(e.do(bob, http.MethodGet, base+"/messages?limit=10", nil, &page), http.StatusOK, "history")
	if len(page.Messages) != 1 || !page.Messages[0].Deleted || page.Messages[0].Ciphertext != "" {
		t.Fatalf("expected one redacted tombstone, got %+v", page.Messages)
	}
	e.expect(e.do(bob, http.MethodGet, base+"/messages?limit=x", nil, nil), http.StatusBadRequest, "bad limit")

	var list []dto.ConversationResponse
	e.expect(e.do(bob, http.MethodGet, "/v1/conversations?type=personal", nil, &list), http.StatusOK, "list")
	if len(list) != 1 || list[0].ID != conv.ID {
		t.Fatalf("unexpected list: %+v", list)
	}
	e.expect(e.do(bob, http.MethodGet, "/v1/conversations?type=weird", nil, nil), http.StatusBadRequest, "bad type")
	e.expect(e.do(bob, http.MethodPost, base+"/archive", nil, nil), http.StatusNoContent, "archive")
	e.expect(e.do(bob, http.MethodGet, "/v1/conversations?archived=true", nil, &list), http.StatusOK, "archived list")
	if len(list) != 1 || !list[0].Archived {
		t.Fatalf("expected archived conversation, got %+v", list)
	}
}

func TestGroupRoutes(t *testing.T) {
	e := newEnv(t)
	company := uuid.New()
	owner, a, b := e.user(company), e.user(company), e.user(company)

	var group dto.ConversationResponse
	e.expect(e.do(owner, http.MethodPost, "/v1/conversations/groups", dto.CreateGroupRequest{
		Name:      "ops",
		MemberIDs: []string{a.caller.UserID.String()},
	}, &group), http.StatusCreated, "create group")
	if !group.IsGroup || group.Role != domain.RoleOwner || len(group.Members) != 2 {
		t.Fatalf("unexpected group: %+v", group)
	}
	base := "/v1/conversations/" + group.ID

	e.expect(e.do(a, http.MethodPatch, base, dto.RenameRequest{Name: "nope"}, nil), http.StatusForbidden, "member rename")
	var renamed dto.ConversationResponse
	e.expect(e.do(owner, http.MethodPatch, base, dto.RenameRequest{Name: "ops-2"}, &renamed), http.StatusOK, "owner rename")
	if renamed.Name != "ops-2" {
		t.Fatalf("rename not applied: %q", renamed.Name)
	}
	e.expect(e.do(a, http.MethodPost, base+"/members", dto.AddMembersRequest{MemberIDs: []string{b.caller.UserID.String()}}, nil), http.StatusOK, "add member")
	e.expect(e.do(a, http.MethodDelete, base+"/members/"+b.caller.UserID.String(), nil, nil), http.StatusForbidden, "member removes member")
	e.expect(e.do(owner, http.MethodDelete, base+"/members/"+b.caller.UserID.String(), nil, nil), http.StatusNoContent, "owner removes member")
	e.expect(e.do(b, http.MethodGet, base, nil, nil), http.StatusNotFound, "removed member reads")
	e.expect(e.do(a, http.MethodPost, base+"/leave", nil, nil), http.StatusNoContent, "leave")
	e.expect(e.do(e.user(uuid.New()), http.MethodGet, base, nil, nil), http.StatusNotFound, "other company")
}

func TestAttachmentRoutes(t *testing.T) {
	e := newEnv(t)
	company := uuid.New()
	alice, bob := e.user(company), e.user(company)

	var conv dto.ConversationResponse
	e.expect(e.do(alice, http.MethodPost, "/v1/conversations/personal",
		dto.CreatePersonalRequest{RecipientID: bob.caller.UserID.String()}, &conv), http.StatusOK, "open personal")
	base := "/v1/conversations/" + conv.ID

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "report.txt")
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	_, _ = part.Write([]byte("encrypted-blob"))
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, e.srv.URL+base+"/attachments", &buf)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+alice.token)
	var att dto.AttachmentResponse
	e.expect(e.send(req, &att), http.StatusCreated, "upload")
	if att.Category != domain.CategoryDocument || att.Size != int64(len("encrypted-blob")) || att.URL == "" {
		t.Fatalf("unexpected attachment: %+v", att)
	}

	msgReq := sealed(t, "see attached")
	msgReq.AttachmentIDs = []string{att.ID}
	e.expect(e.do(alice, http.MethodPost, base+"/messages", msgReq, nil), http.StatusCreated, "send with attachment")
	msgReq = sealed(t, "again")
	msgReq.AttachmentIDs = []string{att.ID}
	e.expect(e.do(alice, http.MethodPost, base+"/messages", msgReq, nil), http.StatusBadRequest, "reuse attachment")

	var got dto.AttachmentResponse
	e.expect(e.do(bob, http.MethodGet, "/v1/attachments/"+att.ID, nil, &got), http.StatusOK, "get attachment")
	if got.MessageID == "" {
		t.Fatal("attachment should be linked after send")
	}
	var batch []dto.AttachmentResponse
	e.expect(e.do(bob, http.MethodGet, "/v1/attachments?ids="+att.ID+","+uuid.NewString(), nil, &batch), http.StatusOK, "batch")
	if len(batch) != 1 {
		t.Fatalf("batch len = %d", len(batch))
	}

	req, _ = http.NewRequest(http.MethodGet, e.srv.URL+"/v1/attachments/"+att.ID+"/content", nil)
	req.Header.Set("Authorization", "Bearer "+bob.token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "encrypted-blob" {
		t.Fatalf("download status %d body %q", resp.StatusCode, body)
	}

	outsider := e.user(company)
	e.expect(e.do(outsider, http.MethodGet, "/v1/attachments/"+att.ID, nil, nil), http.StatusNotFound, "outsider attachment")
}

func TestMessageResponseCarriesWraps(t *testing.T) {
	wraps := []byte(`[{"userId":"` + uuid.NewString() + `","keyId":"` + uuid.NewString() + `","wrappedKey":"d3JhcA==","nonce":"bm9uY2U="}]`)
	res, err := messageResponse(domain.Message{
		ID:         uuid.New(),
		Ciphertext: []byte{1, 2, 3},
		Nonce:      make([]byte, 12),
		KeyWraps:   wraps,
	})
	if err != nil {
		t.Fatalf("message response: %v", err)
	}
	if len(res.KeyWraps) != 1 || res.KeyWraps[0].WrappedKey != "d3JhcA==" {
		t.Fatalf("wraps not carried: %+v", res.KeyWraps)
	}
	if res.Ciphertext != base64.StdEncoding.EncodeToString([]byte{1, 2, 3}) {
		t.Fatalf("ciphertext = %q", res.Ciphertext)
	}
}
