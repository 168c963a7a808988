package httpx

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/splax/confvault/internal/domain"
	"github.com/splax/confvault/internal/service/audit"
	"github.com/splax/confvault/internal/ws"
)

type subscribedFrame struct {
	Type  string `json:"type"`
	Topic string `json:"topic"`
}

func (r *Router) handleAuditLogs(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	q := req.URL.Query()
	page, err := r.audit.Query(req.Context(), audit.Filter{
		Action:     q.Get("action"),
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
		Limit:      queryInt(q.Get("limit")),
		Offset:     queryInt(q.Get("offset")),
	})
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	if page.Logs == nil {
		page.Logs = []domain.AuditLog{}
	}
	writeJSON(w, http.StatusOK, page)
}

// queryInt parses a paging parameter. Missing or malformed values read as 0,
// which Query turns into the default limit and the first page.
func queryInt(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0
	}
	return n
}

// streamTopic resolves the hub topic from the entity_type query parameter.
func streamTopic(req *http.Request) (string, bool) {
	entityType := strings.TrimSpace(req.URL.Query().Get("entity_type"))
	if entityType == "" {
		return ws.TopicAll, true
	}
	return entityType, domain.ValidEntityType(entityType)
}

func (r *Router) handleAuditStream(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	if r.hub == nil {
		writeError(w, http.StatusServiceUnavailable, "audit stream disabled")
		return
	}
	topic, ok := streamTopic(req)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown entity_type")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	client := ws.NewSSEClient(w, flusher, r.logger)
	r.hub.Register(topic, client)
	defer func() {
		r.hub.Unregister(topic, client)
		client.Close()
	}()
	if err := client.Comment("subscribed " + topic); err != nil {
		return
	}

	ticker := time.NewTicker(sseHeartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-req.Context().Done():
			return
		case <-r.hub.Done():
			return
		case <-ticker.C:
			if err := client.Heartbeat(); err != nil {
				return
			}
		}
	}
}

func (r *Router) handleAuditWS(w http.ResponseWriter, req *http.Request) {
	if _, ok := actorFromContext(req.Context()); !ok {
		r.logger.Error("auth context missing for audit websocket", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	if r.hub == nil {
		writeError(w, http.StatusServiceUnavailable, "audit stream disabled")
		return
	}
	topic, ok := streamTopic(req)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown entity_type")
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	r.hub.Register(topic, client)
	ready, _ := json.Marshal(subscribedFrame{Type: "subscribed", Topic: topic})
	if err := client.Send(ready); err != nil {
		r.hub.Unregister(topic, client)
		client.Close()
		return
	}
	go client.Serve(r.hub.Done(), func() {
		r.hub.Unregister(topic, client)
	})
}
