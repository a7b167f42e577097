package email

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DevSender writes messages to disk instead of delivering them. Each message
// becomes <name>.html with the body and <name>.json with the envelope.
//
// The name is the sanitized Ref when present, so a redelivered job replaces
// its earlier output. Otherwise it is a timestamp plus the tag or subject.
type DevSender struct {
	dir string
	now func() time.Time
}

// DevSenderOption configures a DevSender.
type DevSenderOption func(*DevSender)

// WithDevClock sets the clock used for file names and metadata.
func WithDevClock(now func() time.Time) DevSenderOption {
	return func(d *DevSender) {
		if now != nil {
			d.now = now
		}
	}
}

// NewDevSender returns a sender writing into dir, created on first use.
func NewDevSender(dir string, opts ...DevSenderOption) *DevSender {
	d := &DevSender{dir: dir, now: time.Now}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

type devEnvelope struct {
	Timestamp string `json:"timestamp"`
	SendTo    string `json:"send_to"`
	Subject   string `json:"subject"`
	Tag       string `json:"tag,omitempty"`
	Ref       string `json:"reference,omitempty"`
}

func (d *DevSender) SendEmail(_ context.Context, params SendEmailParams) error {
	if err := params.Validate(); err != nil {
		return err
	}

	now := d.now()
	envelope, err := json.MarshalIndent(devEnvelope{
		Timestamp: now.Format(time.RFC3339),
		SendTo:    params.SendTo,
		Subject:   params.Subject,
		Tag:       params.Tag,
		Ref:       params.Ref,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode envelope: %v", ErrFailedToSendEmail, err)
	}

	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return fmt.Errorf("%w: create %s: %v", ErrFailedToSendEmail, d.dir, err)
	}

	name := devFileName(params, now)
	for ext, data := range map[string][]byte{".html": []byte(params.BodyHTML), ".json": envelope} {
		if err := os.WriteFile(filepath.Join(d.dir, name+ext), data, 0o644); err != nil {
			return fmt.Errorf("%w: write %s%s: %v", ErrFailedToSendEmail, name, ext, err)
		}
	}
	return nil
}

func devFileName(params SendEmailParams, now time.Time) string {
	if params.Ref != "" {
		return slug(params.Ref)
	}
	label := params.Tag
	if label == "" {
		label = params.Subject
	}
	return now.Format("2006_01_02_150405") + "_" + slug(label)
}

const maxSlugLength = 100

// slug keeps ASCII letters, digits, '-', '_' and '.', turns spaces into
// underscores and lowercases the result.
func slug(s string) string {
	out := strings.Map(func(r rune) rune {
		switch {
		case r == ' ':
			return '_'
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		}
		return -1
	}, s)
	if len(out) > maxSlugLength {
		out = out[:maxSlugLength]
	}
	if out == "" {
		return "email"
	}
	return strings.ToLower(out)
}
