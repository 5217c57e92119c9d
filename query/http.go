package query

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-guardrelay/core"
)

type messageView struct {
	ID            string          `json:"id"`
	From          string          `json:"from"`
	Type          string          `json:"type"`
	Text          string          `json:"text,omitempty"`
	Timestamp     string          `json:"timestamp,omitempty"`
	PhoneNumberID string          `json:"phone_number_id,omitempty"`
	DisplayPhone  string          `json:"display_phone,omitempty"`
	Raw           json.RawMessage `json:"raw,omitempty"`
	ReceivedAt    time.Time       `json:"received_at"`
}

type statusView struct {
	ID          string    `json:"id"`
	Status      string    `json:"status"`
	RecipientID string    `json:"recipient_id,omitempty"`
	Timestamp   string    `json:"timestamp,omitempty"`
	ReceivedAt  time.Time `json:"received_at"`
}

type pageView struct {
	Items []messageView `json:"items"`
	Total int           `json:"total"`
}

type errorView struct {
	TextCode string `json:"text_code"`
	Message  string `json:"message"`
}

// HTTPHandler serves the read-only operator API:
//
//	GET {prefix}/messages?sender=&type=&since=&limit=&offset=
//	GET {prefix}/messages/{id}/statuses
//	GET {prefix}/rooms/{room}
type HTTPHandler struct {
	messages *ListInboundMessagesQuery
	history  *StatusHistoryQuery
	rooms    *RoomMembersQuery
	mux      *http.ServeMux
}

func NewHTTPHandler(prefix string, reader InboundMessageReader, rooms RoomReader) *HTTPHandler {
	prefix = "/" + strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "/" {
		prefix = ""
	}
	h := &HTTPHandler{
		messages: NewListInboundMessagesQuery(reader),
		history:  NewStatusHistoryQuery(reader),
		rooms:    NewRoomMembersQuery(rooms),
		mux:      http.NewServeMux(),
	}
	h.mux.HandleFunc("GET "+prefix+"/messages", h.listMessages)
	h.mux.HandleFunc("GET "+prefix+"/messages/{id}/statuses", h.statusHistory)
	h.mux.HandleFunc("GET "+prefix+"/rooms/{room}", h.roomMembers)
	return h
}

func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *HTTPHandler) listMessages(w http.ResponseWriter, r *http.Request) {
	values := r.URL.Query()
	filter := core.InboundMessageFilter{
		Sender: strings.TrimSpace(values.Get("sender")),
		Type:   strings.TrimSpace(values.Get("type")),
	}
	var err error
	if filter.Limit, err = intParam(values.Get("limit"), "limit"); err != nil {
		writeError(w, err)
		return
	}
	if filter.Offset, err = intParam(values.Get("offset"), "offset"); err != nil {
		writeError(w, err)
		return
	}
	if since := strings.TrimSpace(values.Get("since")); since != "" {
		parsed, parseErr := time.Parse(time.RFC3339, since)
		if parseErr != nil {
			writeError(w, queryValidationError("since", "must be an RFC3339 timestamp"))
			return
		}
		filter.Since = parsed
	}

	page, err := h.messages.Query(r.Context(), ListInboundMessagesMessage{Filter: filter})
	if err != nil {
		writeError(w, err)
		return
	}
	out := pageView{Items: make([]messageView, 0, len(page.Items)), Total: page.Total}
	for _, msg := range page.Items {
		out.Items = append(out.Items, messageView{
			ID:            msg.ID,
			From:          msg.From,
			Type:          msg.Type,
			Text:          msg.Text,
			Timestamp:     msg.Timestamp,
			PhoneNumberID: msg.PhoneNumberID,
			DisplayPhone:  msg.DisplayPhone,
			Raw:           msg.Raw,
			ReceivedAt:    msg.ReceivedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *HTTPHandler) statusHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.history.Query(r.Context(), StatusHistoryMessage{MessageID: r.PathValue("id")})
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]statusView, 0, len(history))
	for _, status := range history {
		out = append(out, statusView{
			ID:          status.ID,
			Status:      status.Status,
			RecipientID: status.RecipientID,
			Timestamp:   status.Timestamp,
			ReceivedAt:  status.ReceivedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *HTTPHandler) roomMembers(w http.ResponseWriter, r *http.Request) {
	members, err := h.rooms.Query(r.Context(), RoomMembersMessage{Room: core.RoomID(r.PathValue("room"))})
	if err != nil {
		writeError(w, err)
		return
	}
	if members == nil {
		members = []core.ConnectionID{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"room": r.PathValue("room"), "connections": members})
}

func intParam(raw string, field string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, queryValidationError(field, "must be an integer")
	}
	return value, nil
}

func writeError(w http.ResponseWriter, err error) {
	mapped := core.MapError(err)
	writeJSON(w, mapped.Code, map[string]errorView{"error": {
		TextCode: mapped.TextCode,
		Message:  mapped.Message,
	}})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
