package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/alexflint/go-arg"
)

type InitCmd struct {
	BaseURL string `arg:"--base-url,env:CHATCTL_BASE_URL" default:"http://localhost:8080" help:"chatd base URL"`
	User    string `arg:"--user" help:"user UUID (generated if empty)"`
	Device  string `arg:"--device" default:"default" help:"device label for this key ring"`
	Token   string `arg:"--token,env:CHATCTL_TOKEN" help:"bearer token"`
}

type TokenCmd struct {
	Secret  string        `arg:"--secret,required,env:CHATD_AUTH_HS256_SECRET" help:"HS256 secret shared with chatd"`
	Company string        `arg:"--company,required" help:"company UUID"`
	Issuer  string        `arg:"--issuer" default:"chatd" help:"token issuer"`
	TTL     time.Duration `arg:"--ttl" default:"24h" help:"token lifetime"`
}

type KeyCmd struct {
	Rotate bool `arg:"--rotate" help:"replace the active key pair"`
}

type ConversationsCmd struct {
	Type     string `arg:"--type" help:"personal or group"`
	Archived bool   `arg:"--archived" help:"list archived conversations"`
}

type OpenPersonalCmd struct {
	User string `arg:"positional,required" help:"recipient user UUID"`
}

type CreateGroupCmd struct {
	Name    string   `arg:"positional,required" help:"group name"`
	Members []string `arg:"positional" help:"member user UUIDs"`
}

type SendCmd struct {
	Conversation string   `arg:"positional,required" help:"conversation UUID"`
	Text         string   `arg:"positional,required" help:"message text"`
	Attach       []string `arg:"--attach,separate" help:"file to attach (repeatable)"`
	Ref          []string `arg:"--ref,separate" help:"entity reference type:id[:title] (repeatable)"`
}

type ReadCmd struct {
	Conversation string `arg:"positional,required" help:"conversation UUID"`
	Limit        int    `arg:"--limit" default:"50" help:"number of messages"`
	NoMark       bool   `arg:"--no-mark" help:"do not mark the conversation as read"`
}

type DeleteCmd struct {
	Conversation string `arg:"positional,required" help:"conversation UUID"`
	Message      string `arg:"positional,required" help:"message UUID"`
}

type UploadCmd struct {
	Conversation string `arg:"positional,required" help:"conversation UUID"`
	File         string `arg:"positional,required" help:"file to upload"`
	ContentType  string `arg:"--content-type" help:"override the detected content type"`
}

type args struct {
	State   string        `arg:"--state,env:CHATCTL_STATE" help:"path to the state file"`
	Timeout time.Duration `arg:"--timeout" default:"30s" help:"request timeout"`

	Init          *InitCmd          `arg:"subcommand:init" help:"create a local state file"`
	Token         *TokenCmd         `arg:"subcommand:token" help:"mint a development token for the stored user"`
	Key           *KeyCmd           `arg:"subcommand:key" help:"register or rotate this device's key pair"`
	Conversations *ConversationsCmd `arg:"subcommand:conversations" help:"list conversations"`
	OpenPersonal  *OpenPersonalCmd  `arg:"subcommand:open-personal" help:"open a personal conversation"`
	CreateGroup   *CreateGroupCmd   `arg:"subcommand:create-group" help:"create a group conversation"`
	Send          *SendCmd          `arg:"subcommand:send" help:"encrypt and send a message"`
	Read          *ReadCmd          `arg:"subcommand:read" help:"fetch and decrypt history"`
	Delete        *DeleteCmd        `arg:"subcommand:delete" help:"delete a message you sent"`
	Upload        *UploadCmd        `arg:"subcommand:upload" help:"upload an attachment"`
}

func (args) Description() string {
	return "chatctl is a command line client for chatd with local end-to-end encryption."
}

func main() {
	var a args
	p := arg.MustParse(&a)
	if p.Subcommand() == nil {
		p.Fail("missing subcommand")
	}
	if a.State == "" {
		a.State = defaultStatePath()
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.Timeout)
	defer cancel()

	if err := run(ctx, a); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, a args) error {
	switch {
	case a.Init != nil:
		return runInit(a.State, a.Init)
	case a.Token != nil:
		return runToken(a.State, a.Token)
	}

	c, err := openClient(a.State)
	if err != nil {
		return err
	}
	switch {
	case a.Key != nil:
		return c.key(ctx, a.Key)
	case a.Conversations != nil:
		return c.conversations(ctx, a.Conversations)
	case a.OpenPersonal != nil:
		return c.openPersonal(ctx, a.OpenPersonal)
	case a.CreateGroup != nil:
		return c.createGroup(ctx, a.CreateGroup)
	case a.Send != nil:
		return c.send(ctx, a.Send)
	case a.Read != nil:
		return c.read(ctx, a.Read)
	case a.Delete != nil:
		return c.delete(ctx, a.Delete)
	case a.Upload != nil:
		return c.upload(ctx, a.Upload)
	}
	return nil
}

func defaultStatePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "chatctl-state.json"
	}
	return filepath.Join(dir, "chatctl", "state.json")
}
