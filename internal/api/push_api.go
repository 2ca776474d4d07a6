package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/tinywideclouds/go-microservice-base/pkg/response"

	"github.com/tinywideclouds/go-chatpush-service/internal/metrics"
	"github.com/tinywideclouds/go-chatpush-service/internal/pipeline"
	"github.com/tinywideclouds/go-chatpush-service/pkg/dispatch"
)

// Authorizer verifies the caller's credential and the uid it claims.
type Authorizer interface {
	Verify(ctx context.Context, header string) (string, error)
	CheckClaim(verifiedUID, claimedUID string) error
}

// ChatSender fans a chat message out to recipient devices.
type ChatSender interface {
	Send(ctx context.Context, msg pipeline.ChatMessage) (pipeline.Result, error)
}

type PushAPI struct {
	Gate    Authorizer
	Sender  ChatSender
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

func NewPushAPI(gate Authorizer, sender ChatSender, m *metrics.Metrics, logger *slog.Logger) *PushAPI {
	return &PushAPI{
		Gate:    gate,
		Sender:  sender,
		Metrics: m,
		Logger:  logger.With("component", "PushAPI"),
	}
}

// PushChatRequest is the body posted by the chat client. Text is decoded
// loosely so a non-string value can be rejected explicitly.
type PushChatRequest struct {
	RoomID string      `json:"roomId"`
	Text   interface{} `json:"text"`
	User   string      `json:"user"`
	UID    string      `json:"uid"`
}

type PushChatResponse struct {
	OK   bool `json:"ok"`
	Sent int  `json:"sent"`
}

// PushChat handles POST /api/v1/push/chat.
//
// Checks run in order: credential (401), body (400), claimed uid (403).
// All of them complete before any directory lookup.
func (api *PushAPI) PushChat(w http.ResponseWriter, r *http.Request) {
	log := api.Logger.With("request_id", uuid.NewString())

	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodPost:
	default:
		api.fail(w, log, statusFor(dispatch.ErrMethodNotAllowed), dispatch.ErrMethodNotAllowed)
		return
	}

	var req PushChatRequest
	decodeErr := json.NewDecoder(r.Body).Decode(&req)

	senderUID, err := api.Gate.Verify(r.Context(), r.Header.Get("Authorization"))
	if err != nil {
		api.fail(w, log, statusFor(err), err)
		return
	}

	text, isString := req.Text.(string)
	if decodeErr != nil || !isString || text == "" {
		api.fail(w, log, http.StatusBadRequest, dispatch.ErrValidation)
		return
	}

	if err := api.Gate.CheckClaim(senderUID, req.UID); err != nil {
		api.fail(w, log, statusFor(err), err)
		return
	}

	res, err := api.Sender.Send(r.Context(), pipeline.ChatMessage{
		RoomID:      req.RoomID,
		Text:        text,
		DisplayName: req.User,
		SenderUID:   senderUID,
	})
	if err != nil {
		log.Error("Chat push failed", "sender_uid", senderUID, "sent", res.Sent, "err", err)
		api.Metrics.ObserveRequest(strconv.Itoa(http.StatusInternalServerError))
		response.WriteJSONError(w, http.StatusInternalServerError, "Error: "+err.Error())
		return
	}

	api.Metrics.ObserveRequest(strconv.Itoa(http.StatusOK))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(PushChatResponse{OK: true, Sent: res.Sent}); err != nil {
		log.Warn("Failed to write response", "err", err)
	}
}

func (api *PushAPI) fail(w http.ResponseWriter, log *slog.Logger, status int, err error) {
	log.Warn("Push request rejected", "status", status, "err", err)
	api.Metrics.ObserveRequest(strconv.Itoa(status))
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "Error: " + msg
	}
	response.WriteJSONError(w, status, msg)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, dispatch.ErrUnauthenticated), errors.Is(err, dispatch.ErrUnverifiable):
		return http.StatusUnauthorized
	case errors.Is(err, dispatch.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, dispatch.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, dispatch.ErrMethodNotAllowed):
		return http.StatusMethodNotAllowed
	default:
		return http.StatusInternalServerError
	}
}
