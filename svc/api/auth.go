package api

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/hlog"

	"linkvault/pkg/domain"
	"linkvault/svc/util"
)

const maxAuthBodySize = 16 * 1024

type credentialsReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResp struct {
	Token string       `json:"token"`
	User  *domain.User `json:"user"`
}

func (h *Hdl) Register(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	req, err := decodeCredentials(w, r)
	if err != nil {
		writeErr(w, err, requestID)
		return
	}
	user, token, err := h.users.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		log.Warn().Err(err).Msg("registration failed")
		writeErr(w, err, requestID)
		return
	}
	log.Info().Str("user_id", user.ID).Msg("user registered")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(authResp{Token: token, User: user})
}

func (h *Hdl) Login(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	req, err := decodeCredentials(w, r)
	if err != nil {
		writeErr(w, err, requestID)
		return
	}
	user, token, err := h.users.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		log.Warn().
			Err(err).
			Str("client_ip", util.RedactIP(r.RemoteAddr)).
			Msg("login failed")
		writeErr(w, err, requestID)
		return
	}
	log.Info().Str("user_id", user.ID).Msg("user logged in")
	json.NewEncoder(w).Encode(authResp{Token: token, User: user})
}

func (h *Hdl) Me(w http.ResponseWriter, r *http.Request) {
	requestID := util.GetRequestID(r.Context())
	user, err := h.users.Me(r.Context(), UserID(r.Context()))
	if err != nil {
		writeErr(w, err, requestID)
		return
	}
	json.NewEncoder(w).Encode(user)
}

func decodeCredentials(w http.ResponseWriter, r *http.Request) (*credentialsReq, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxAuthBodySize)
	var req credentialsReq
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return nil, domain.ErrValidation
	}
	if req.Email == "" || req.Password == "" {
		return nil, domain.ErrValidation
	}
	return &req, nil
}
