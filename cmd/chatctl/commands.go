package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"e2eechat/internal/jwtsigner"
	"e2eechat/pkg/chatclient"

	"github.com/google/uuid"
)

func runInit(path string, cmd *InitCmd) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("state file %s already exists", path)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	userID := uuid.New()
	if s := strings.TrimSpace(cmd.User); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			return fmt.Errorf("invalid user id: %w", err)
		}
		userID = id
	}
	st := &chatclient.State{
		UserID:      userID,
		BaseURL:     strings.TrimRight(strings.TrimSpace(cmd.BaseURL), "/"),
		Token:       strings.TrimSpace(cmd.Token),
		DeviceLabel: strings.TrimSpace(cmd.Device),
	}
	st.SetPath(path)
	if err := st.Save(); err != nil {
		return err
	}
	return printJSON(map[string]string{"userId": userID.String(), "state": path})
}

func runToken(path string, cmd *TokenCmd) error {
	st, err := chatclient.LoadState(path)
	if err != nil {
		return err
	}
	company, err := uuid.Parse(strings.TrimSpace(cmd.Company))
	if err != nil {
		return fmt.Errorf("invalid company id: %w", err)
	}
	signer, err := jwtsigner.New(cmd.Secret, cmd.Issuer)
	if err != nil {
		return err
	}
	tok, err := signer.Sign(st.UserID, company, cmd.TTL)
	if err != nil {
		return err
	}
	st.Token = tok
	if err := st.Save(); err != nil {
		return err
	}
	fmt.Fprintln(os.Stderr, "token stored")
	return nil
}

type client struct {
	state   *chatclient.State
	session *chatclient.Session
}

func openClient(path string) (*client, error) {
	st, err := chatclient.LoadState(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("no state at %s, run chatctl init first", path)
		}
		return nil, err
	}
	if st.Token == "" {
		return nil, errors.New("no token stored, run chatctl token or init --token")
	}
	ring, err := st.KeyRing()
	if err != nil {
		return nil, err
	}
	remote := chatclient.NewHTTPRemote(st.BaseURL, st.Token, nil)
	return &client{state: st, session: chatclient.NewSession(remote, st.UserID, ring)}, nil
}

func (c *client) persistKeys() error {
	if err := c.state.StoreKeyRing(c.session.KeyRing()); err != nil {
		return err
	}
	return c.state.Save()
}

func (c *client) key(ctx context.Context, cmd *KeyCmd) error {
	label := c.state.DeviceLabel
	var (
		rec chatclient.KeyRecord
		err error
	)
	if cmd.Rotate {
		rec, err = c.session.RotateIdentity(ctx, label)
	} else {
		rec, err = c.session.EnsureIdentity(ctx, label)
	}
	if err != nil {
		return err
	}
	if err := c.persistKeys(); err != nil {
		return err
	}
	return printJSON(rec)
}

func (c *client) conversations(ctx context.Context, cmd *ConversationsCmd) error {
	convs, err := c.session.Remote().Conversations(ctx, cmd.Type, cmd.Archived)
	if err != nil {
		return err
	}
	return printJSON(convs)
}

func (c *client) openPersonal(ctx context.Context, cmd *OpenPersonalCmd) error {
	peer, err := parseUUID(cmd.User, "user")
	if err != nil {
		return err
	}
	conv, err := c.session.Remote().OpenPersonal(ctx, peer)
	if err != nil {
		return err
	}
	return printJSON(conv)
}

func (c *client) createGroup(ctx context.Context, cmd *CreateGroupCmd) error {
	members := make([]uuid.UUID, 0, len(cmd.Members))
	for _, m := range cmd.Members {
		id, err := parseUUID(m, "member")
		if err != nil {
			return err
		}
		members = append(members, id)
	}
	conv, err := c.session.Remote().CreateGroup(ctx, cmd.Name, members)
	if err != nil {
		return err
	}
	return printJSON(conv)
}

func (c *client) send(ctx context.Context, cmd *SendCmd) error {
	convID, err := parseUUID(cmd.Conversation, "conversation")
	if err != nil {
		return err
	}
	refs, err := parseRefs(cmd.Ref)
	if err != nil {
		return err
	}
	var attachmentIDs []uuid.UUID
	for _, path := range cmd.Attach {
		att, err := c.uploadFile(ctx, convID, path, "")
		if err != nil {
			return fmt.Errorf("attach %s: %w", path, err)
		}
		attachmentIDs = append(attachmentIDs, att.ID)
	}
	entry, err := c.session.Send(ctx, convID, cmd.Text, chatclient.SendOptions{AttachmentIDs: attachmentIDs, Refs: refs})
	if err != nil {
		return err
	}
	return printJSON(map[string]any{
		"id":          entry.ID,
		"createdAt":   entry.CreatedAt,
		"attachments": entry.Attachments,
	})
}

func (c *client) read(ctx context.Context, cmd *ReadCmd) error {
	convID, err := parseUUID(cmd.Conversation, "conversation")
	if err != nil {
		return err
	}
	view, err := c.session.Open(ctx, convID, cmd.Limit)
	if err != nil {
		return err
	}
	for _, e := range view.Entries() {
		fmt.Println(formatEntry(e, c.state.UserID))
	}
	if cmd.NoMark {
		return nil
	}
	return c.session.MarkRead(ctx, convID)
}

func (c *client) delete(ctx context.Context, cmd *DeleteCmd) error {
	convID, err := parseUUID(cmd.Conversation, "conversation")
	if err != nil {
		return err
	}
	msgID, err := parseUUID(cmd.Message, "message")
	if err != nil {
		return err
	}
	return c.session.Delete(ctx, convID, msgID)
}

func (c *client) upload(ctx context.Context, cmd *UploadCmd) error {
	convID, err := parseUUID(cmd.Conversation, "conversation")
	if err != nil {
		return err
	}
	att, err := c.uploadFile(ctx, convID, cmd.File, cmd.ContentType)
	if err != nil {
		return err
	}
	return printJSON(att)
}

func (c *client) uploadFile(ctx context.Context, convID uuid.UUID, path, contentType string) (chatclient.Attachment, error) {
	f, err := os.Open(path)
	if err != nil {
		return chatclient.Attachment{}, err
	}
	defer f.Close()
	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(path))
	}
	return c.session.Upload(ctx, convID, filepath.Base(path), contentType, f)
}

func formatEntry(e chatclient.Entry, self uuid.UUID) string {
	who := e.SenderID.String()[:8]
	if e.SenderID == self {
		who = "me"
	}
	ts := e.CreatedAt.Local().Format(time.DateTime)
	switch {
	case e.Deleted:
		return fmt.Sprintf("%s  %s  %-8s  [deleted]", ts, e.ID, who)
	case e.Err != nil:
		return fmt.Sprintf("%s  %s  %-8s  [unreadable: %v]", ts, e.ID, who, e.Err)
	}
	line := fmt.Sprintf("%s  %s  %-8s  %s", ts, e.ID, who, e.Content.Text())
	for _, a := range e.Attachments {
		line += fmt.Sprintf("\n    attachment %s (%s, %d bytes) %s", a.FileName, a.ContentType, a.Size, a.URL)
	}
	if env, ok := e.Content.(*chatclient.Envelope); ok {
		for _, r := range env.Refs {
			line += fmt.Sprintf("\n    ref %s:%s %s", r.Type, r.ID, r.Title)
		}
	}
	return line
}

func parseRefs(in []string) ([]chatclient.EntityRef, error) {
	var out []chatclient.EntityRef
	for _, raw := range in {
		parts := strings.SplitN(raw, ":", 3)
		if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("invalid ref %q, want type:id[:title]", raw)
		}
		ref := chatclient.EntityRef{Type: parts[0], ID: parts[1]}
		if len(parts) == 3 {
			ref.Title = parts[2]
		}
		out = append(out, ref)
	}
	return out, nil
}

func parseUUID(s, what string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s id %q", what, s)
	}
	return id, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
