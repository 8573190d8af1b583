package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"weather-postcard/internal/postcard"
	"weather-postcard/internal/queue"
	"weather-postcard/internal/status"
)

// User-facing retrieval messages.
const (
	msgMissingID = "No ID was provided!"
	msgNotFound  = "No storage container found for ID: %s"
)

var msgShortID = fmt.Sprintf("Requested ID does not meet the minimum length (%d) for storage containers!", postcard.MinClientIDLength)

// errorResponse is the uniform JSON error envelope.
type errorResponse struct {
	Error string `json:"error"`
}

// issueResponse is returned when a new identifier was queued.
type issueResponse struct {
	ClientID string `json:"client_id"`
	Message  string `json:"message"`
}

// handleHealthz reports API dependency health.
func (a *app) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), a.cfg.requestTimeout)
	defer cancel()

	results := make(map[string]bool, len(a.checks))
	healthy := true
	for _, check := range a.checks {
		err := check.probe(ctx)
		results[check.name] = err == nil
		if err != nil {
			healthy = false
			a.logger.Printf("healthz check failed name=%s err=%v", check.name, err)
		}
	}

	statusCode := http.StatusOK
	overall := "ok"
	if !healthy {
		statusCode = http.StatusServiceUnavailable
		overall = "degraded"
	}
	a.logger.Printf("healthz result status=%s checks=%v", overall, results)
	writeJSON(w, statusCode, map[string]any{
		"status": overall,
		"checks": results,
		"time":   a.now().UTC().Format(time.RFC3339),
	})
}

// handleIssueID hands out a new identifier and queues its fan-out. The
// identifier is only returned once the fan-out message is accepted.
func (a *app) handleIssueID(w http.ResponseWriter, r *http.Request) {
	clientID := a.issuer.Issue()

	ctx, cancel := context.WithTimeout(r.Context(), a.cfg.requestTimeout)
	defer cancel()

	if err := a.status.MarkQueued(ctx, clientID); err != nil {
		a.metrics.statusWriteErrors.Inc()
		a.logger.Printf("issue queued status write failed client_id=%s err=%v", clientID, err)
	}

	env, err := queue.NewClientIssued(clientID, a.now())
	if err != nil {
		a.logger.Printf("issue envelope build failed client_id=%s err=%v", clientID, err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to queue postcard request"})
		return
	}
	msg, err := queue.Message(env)
	if err != nil {
		a.logger.Printf("issue envelope encode failed client_id=%s err=%v", clientID, err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to queue postcard request"})
		return
	}

	if err := a.publisher.WriteMessages(ctx, msg); err != nil {
		a.metrics.publishFailures.Inc()
		a.logger.Printf("issue kafka publish failed client_id=%s topic=%s err=%v", clientID, a.cfg.clientsTopic, err)
		a.recordPublishFailure(r.Context(), clientID)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to queue postcard request"})
		return
	}

	a.metrics.idsIssued.Inc()
	a.logger.Printf("issue accepted client_id=%s message_id=%s topic=%s", clientID, env.MessageID, a.cfg.clientsTopic)
	writeJSON(w, http.StatusOK, issueResponse{
		ClientID: clientID,
		Message:  "Your ID is: " + clientID,
	})
}

// recordPublishFailure marks an identifier that never reached the queue.
func (a *app) recordPublishFailure(parent context.Context, clientID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), a.cfg.requestTimeout)
	defer cancel()
	if err := a.status.RecordFailed(ctx, clientID, "KAFKA_PUBLISH_FAILED", "failed to queue postcard request"); err != nil {
		a.metrics.statusWriteErrors.Inc()
		a.logger.Printf("issue failed status write failed client_id=%s err=%v", clientID, err)
	}
}

// handleListImages returns signed links for a client's postcards as
// newline-separated text, or JSON when the client asks for it.
func (a *app) handleListImages(w http.ResponseWriter, r *http.Request) {
	clientID := strings.TrimSpace(r.URL.Query().Get("id"))
	if clientID == "" {
		a.metrics.recordRetrieval("invalid_id")
		writeText(w, http.StatusBadRequest, msgMissingID)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), a.cfg.requestTimeout)
	defer cancel()

	links, err := a.images.List(ctx, clientID)
	switch {
	case errors.Is(err, postcard.ErrInvalidID):
		a.metrics.recordRetrieval("invalid_id")
		writeText(w, http.StatusBadRequest, msgShortID)
		return
	case errors.Is(err, postcard.ErrNotFound):
		a.metrics.recordRetrieval("not_found")
		writeText(w, http.StatusBadRequest, fmt.Sprintf(msgNotFound, clientID))
		return
	case err != nil:
		a.metrics.recordRetrieval("error")
		a.logger.Printf("retrieval failed client_id=%s err=%v", clientID, err)
		writeText(w, http.StatusInternalServerError, "Failed to list postcards.")
		return
	}

	a.metrics.recordRetrieval("ok")
	a.logger.Printf("retrieval success client_id=%s images=%d", clientID, len(links))
	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, links)
		return
	}

	urls := make([]string, len(links))
	for i, link := range links {
		urls[i] = link.URL
	}
	writeText(w, http.StatusOK, strings.Join(urls, "\n"))
}

// handleStatus fetches a client's progress through RabbitMQ request-reply.
func (a *app) handleStatus(w http.ResponseWriter, r *http.Request) {
	clientID := strings.TrimSpace(r.URL.Query().Get("id"))
	switch {
	case clientID == "":
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: msgMissingID})
		return
	case postcard.TooShort(clientID):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: msgShortID})
		return
	}

	reply, err := a.progress.Check(r.Context(), clientID)
	if err != nil {
		switch {
		case errors.Is(err, status.ErrClientNotFound):
			a.metrics.recordStatusCheck("not_found")
			a.logger.Printf("status request client not found client_id=%s", clientID)
			writeJSON(w, http.StatusNotFound, reply)
		case errors.Is(err, status.ErrRequestTimeout):
			a.metrics.recordStatusCheck("timeout")
			a.logger.Printf("status request timeout client_id=%s", clientID)
			writeJSON(w, http.StatusGatewayTimeout, errorResponse{Error: "status request timed out"})
		default:
			a.metrics.recordStatusCheck("error")
			a.logger.Printf("status request failed client_id=%s err=%v", clientID, err)
			writeJSON(w, http.StatusBadGateway, errorResponse{Error: "failed to fetch postcard status"})
		}
		return
	}

	a.metrics.recordStatusCheck("ok")
	a.logger.Printf("status request success client_id=%s state=%s progress=%d", reply.ClientID, reply.State, reply.ProgressPercent)
	writeJSON(w, http.StatusOK, reply)
}

// wantsJSON reports whether the Accept header asks for JSON.
func wantsJSON(r *http.Request) bool {
	for _, part := range strings.Split(r.Header.Get("Accept"), ",") {
		mediaType, _, _ := strings.Cut(strings.TrimSpace(part), ";")
		if strings.EqualFold(strings.TrimSpace(mediaType), "application/json") {
			return true
		}
	}
	return false
}

// writeText writes a plain-text response.
func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write([]byte(body)); err != nil {
		appLogger.Printf("writeText failed status=%d err=%v", status, err)
	}
}

// writeJSON writes a JSON response with status code.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		appLogger.Printf("writeJSON encode failed status=%d err=%v", status, err)
		return
	}
	if status >= 400 {
		appLogger.Printf("response sent status=%d", status)
	}
}
