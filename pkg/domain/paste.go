package domain

import (
	"io"
	"time"
)

type Kind string

const (
	KindText Kind = "text"
	KindFile Kind = "file"
)

// Paste is the central record. Exactly one of Content (text) or the file
// fields is populated. PasswordHash is an argon2id encoding, never the
// plaintext secret.
type Paste struct {
	ID           string    `json:"id"`
	Kind         Kind      `json:"type"`
	Content      string    `json:"content,omitempty"`
	FileName     string    `json:"file_name,omitempty"`
	FileSize     int64     `json:"file_size,omitempty"`
	MimeType     string    `json:"mime_type,omitempty"`
	LocalPath    string    `json:"-"`
	RemoteKey    string    `json:"-"`
	RemoteURL    string    `json:"-"`
	PasswordHash string    `json:"-"`
	MaxViews     int       `json:"max_views,omitempty"`
	Views        int       `json:"views"`
	OneTimeView  bool      `json:"one_time_view"`
	OwnerID      string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// FileUpload carries a pending upload body with its client-supplied metadata.
type FileUpload struct {
	Reader   io.Reader
	Name     string
	Size     int64
	MimeType string
}

type CreateParams struct {
	Text        string
	File        *FileUpload
	ExpiryMins  int
	ExpiresAt   string
	Password    string
	MaxViews    int
	OneTimeView bool
	OwnerID     string
}

// CreateResult is returned to the caller after a successful create.
type CreateResult struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
	Kind      Kind      `json:"type"`
}

// View is the read projection: text records include content, file records
// expose metadata only. Locators never leave the service.
type View struct {
	ID                string    `json:"id"`
	Kind              Kind      `json:"type"`
	CreatedAt         time.Time `json:"created_at"`
	ExpiresAt         time.Time `json:"expires_at"`
	Views             int       `json:"views"`
	PasswordProtected bool      `json:"password_protected"`
	OneTimeView       bool      `json:"one_time_view"`
	Content           string    `json:"content,omitempty"`
	FileName          string    `json:"file_name,omitempty"`
	FileSize          int64     `json:"file_size,omitempty"`
	MimeType          string    `json:"mime_type,omitempty"`
}

// Project builds the caller-facing view with the post-increment view count.
func (p *Paste) Project(views int) *View {
	v := &View{
		ID:                p.ID,
		Kind:              p.Kind,
		CreatedAt:         p.CreatedAt,
		ExpiresAt:         p.ExpiresAt,
		Views:             views,
		PasswordProtected: p.PasswordHash != "",
		OneTimeView:       p.OneTimeView,
	}
	if p.Kind == KindText {
		v.Content = p.Content
	} else {
		v.FileName = p.FileName
		v.FileSize = p.FileSize
		v.MimeType = p.MimeType
	}
	return v
}
