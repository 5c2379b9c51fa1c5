package api

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/hlog"
	"golang.org/x/text/unicode/norm"

	"linkvault/cfg"
	"linkvault/pkg/domain"
	"linkvault/svc/svc"
	"linkvault/svc/util"
)

const maxTextSize = 1 * 1024 * 1024

type Hdl struct {
	paste *svc.Paste
	users *svc.Users
	cfg   *cfg.Cfg
}

type uploadReq struct {
	Text          string `json:"text"`
	ExpiryMinutes int    `json:"expiryMinutes,omitempty"`
	ExpiresAt     string `json:"expiresAt,omitempty"`
	Password      string `json:"password,omitempty"`
	MaxViews      int    `json:"maxViews,omitempty"`
	OneTimeView   bool   `json:"oneTimeView,omitempty"`
}

// Upload accepts either a JSON body carrying text or a multipart form
// carrying a file part named "file" plus the same option fields.
func (h *Hdl) Upload(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		writeErr(w, domain.ErrValidation, requestID)
		return
	}

	var params domain.CreateParams
	var cleanup func()
	switch {
	case mediaType == "application/json":
		params, err = h.parseJSONUpload(w, r)
	case strings.HasPrefix(mediaType, "multipart/"):
		params, cleanup, err = h.parseMultipartUpload(w, r)
	default:
		writeErr(w, domain.ErrValidation, requestID)
		return
	}
	if err != nil {
		log.Warn().Err(err).Msg("upload rejected")
		writeErr(w, err, requestID)
		return
	}
	if cleanup != nil {
		defer cleanup()
	}
	params.OwnerID = UserID(r.Context())

	result, err := h.paste.Create(r.Context(), params)
	if err != nil {
		log.Warn().Err(err).Msg("create failed")
		writeErr(w, err, requestID)
		return
	}
	log.Info().
		Str("paste_id", result.ID).
		Str("kind", string(result.Kind)).
		Bool("password_protected", params.Password != "").
		Msg("upload accepted")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(result)
}

func (h *Hdl) parseJSONUpload(w http.ResponseWriter, r *http.Request) (domain.CreateParams, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxTextSize*2)
	var req uploadReq
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		if err == io.EOF {
			return domain.CreateParams{}, domain.ErrContentRequired
		}
		return domain.CreateParams{}, domain.ErrValidation
	}
	if int64(len(req.Text)) > maxTextSize {
		return domain.CreateParams{}, domain.ErrFileTooLarge
	}
	return domain.CreateParams{
		Text:        sanitizeText(req.Text),
		ExpiryMins:  req.ExpiryMinutes,
		ExpiresAt:   req.ExpiresAt,
		Password:    req.Password,
		MaxViews:    req.MaxViews,
		OneTimeView: req.OneTimeView,
	}, nil
}

func (h *Hdl) parseMultipartUpload(w http.ResponseWriter, r *http.Request) (domain.CreateParams, func(), error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxFileSize+maxTextSize)
	if err := r.ParseMultipartForm(4 * 1024 * 1024); err != nil {
		if errors.As(err, new(*http.MaxBytesError)) {
			return domain.CreateParams{}, nil, domain.ErrFileTooLarge
		}
		return domain.CreateParams{}, nil, domain.ErrValidation
	}
	cleanup := func() {
		if r.MultipartForm != nil {
			r.MultipartForm.RemoveAll()
		}
	}
	params := domain.CreateParams{
		Text:        sanitizeText(r.FormValue("text")),
		ExpiresAt:   r.FormValue("expiresAt"),
		Password:    r.FormValue("password"),
		OneTimeView: parseBool(r.FormValue("oneTimeView")),
	}
	if v := r.FormValue("expiryMinutes"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			cleanup()
			return domain.CreateParams{}, nil, domain.ErrInvalidExpiry
		}
		params.ExpiryMins = n
	}
	if v := r.FormValue("maxViews"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			cleanup()
			return domain.CreateParams{}, nil, domain.ErrValidation
		}
		params.MaxViews = n
	}
	file, header, err := r.FormFile("file")
	if err == nil {
		if header.Size > h.cfg.MaxFileSize {
			file.Close()
			cleanup()
			return domain.CreateParams{}, nil, domain.ErrFileTooLarge
		}
		params.File = &domain.FileUpload{
			Reader:   file,
			Name:     header.Filename,
			Size:     header.Size,
			MimeType: header.Header.Get("Content-Type"),
		}
		inner := cleanup
		cleanup = func() {
			file.Close()
			inner()
		}
	} else if err != http.ErrMissingFile {
		cleanup()
		return domain.CreateParams{}, nil, domain.ErrValidation
	}
	return params, cleanup, nil
}

func (h *Hdl) GetPaste(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	id := chi.URLParam(r, "id")
	password := pastePassword(r)

	view, err := h.paste.Get(r.Context(), id, password)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidPassword) {
			log.Warn().
				Str("paste_id", id).
				Str("client_ip", util.RedactIP(r.RemoteAddr)).
				Msg("failed password attempt")
		} else {
			log.Warn().Err(err).Str("paste_id", id).Msg("get failed")
		}
		writeErr(w, err, requestID)
		return
	}
	log.Info().
		Str("paste_id", id).
		Int("views", view.Views).
		Msg("paste retrieved")
	json.NewEncoder(w).Encode(view)
}

func (h *Hdl) DeletePaste(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	id := chi.URLParam(r, "id")

	password := deleteBodyPassword(w, r)
	if password == "" {
		password = pastePassword(r)
	}
	err := h.paste.Delete(r.Context(), id, UserID(r.Context()), password)
	if err != nil {
		log.Warn().Err(err).Str("paste_id", id).Msg("delete failed")
		writeErr(w, err, requestID)
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"status": "deleted"})
}

// deleteBodyPassword reads the optional {"password"} delete body. A missing
// or malformed body is not an error; the caller falls back to the query
// param and header.
func deleteBodyPassword(w http.ResponseWriter, r *http.Request) string {
	if r.Body == nil {
		return ""
	}
	var req struct {
		Password string `json:"password"`
	}
	body := http.MaxBytesReader(w, r.Body, maxAuthBodySize)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		return ""
	}
	return req.Password
}

func pastePassword(r *http.Request) string {
	if p := r.URL.Query().Get("password"); p != "" {
		return p
	}
	return r.Header.Get("X-Paste-Password")
}

func writeErr(w http.ResponseWriter, err error, requestID string) {
	statusCode := domain.Status(err)
	resp := domain.ToResp(err)
	if statusCode >= 500 {
		util.Error().
			Err(err).
			Str("request_id", requestID).
			Msg("internal error with detailed info")
	}
	// Password-gated content advertises that a password would unlock it, so
	// clients can prompt instead of treating the link as dead.
	if errors.Is(err, domain.ErrPasswordRequired) || errors.Is(err, domain.ErrInvalidPassword) {
		resp.Error.Meta = map[string]interface{}{"passwordProtected": true}
	}
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(resp)
}

func parseBool(s string) bool {
	b, err := strconv.ParseBool(s)
	return err == nil && b
}

// sanitizeText normalizes to NFC and strips invalid UTF-8 and control
// characters. Markup stays untouched; content is stored verbatim and any
// escaping belongs to the consumer rendering it.
func sanitizeText(s string) string {
	if s == "" {
		return s
	}
	s = norm.NFC.String(s)
	if !utf8.ValidString(s) {
		v := make([]rune, 0, len(s))
		for _, r := range s {
			if r != utf8.RuneError {
				v = append(v, r)
			}
		}
		s = string(v)
	}
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == '\t' {
			return r
		}
		if r < 32 || r == 127 {
			return -1
		}
		return r
	}, s)
	return s
}
