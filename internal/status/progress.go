package status

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// ProgressCheckRequest asks the worker for one client's status.
type ProgressCheckRequest struct {
	ClientID    string `json:"client_id"`
	RequestID   string `json:"request_id"`
	RequestedAt string `json:"requested_at"`
}

// ProgressCheckReply answers a ProgressCheckRequest.
type ProgressCheckReply struct {
	ClientID        string `json:"client_id"`
	State           string `json:"state"`
	ExpectedImages  int    `json:"expected_images"`
	StoredImages    int    `json:"stored_images"`
	ProgressPercent int    `json:"progress_percent"`
	Message         string `json:"message"`
	ErrorCode       string `json:"error_code,omitempty"`
	Timestamp       string `json:"timestamp"`
}

// DecodeRequest validates and parses a progress request body.
func DecodeRequest(raw []byte) (ProgressCheckRequest, error) {
	var req ProgressCheckRequest
	if err := decodeJSONObject(raw, &req); err != nil {
		return ProgressCheckRequest{}, err
	}

	req.ClientID = strings.TrimSpace(req.ClientID)
	req.RequestID = strings.TrimSpace(req.RequestID)
	req.RequestedAt = strings.TrimSpace(req.RequestedAt)

	if req.ClientID == "" {
		return ProgressCheckRequest{}, errors.New("client_id is required")
	}
	if req.RequestID == "" {
		return ProgressCheckRequest{}, errors.New("request_id is required")
	}
	if req.RequestedAt == "" {
		return ProgressCheckRequest{}, errors.New("requested_at is required")
	}
	if _, err := time.Parse(time.RFC3339, req.RequestedAt); err != nil {
		return ProgressCheckRequest{}, fmt.Errorf("requested_at must be RFC3339: %w", err)
	}
	return req, nil
}

// DecodeReply parses a progress reply body.
func DecodeReply(raw []byte) (ProgressCheckReply, error) {
	var reply ProgressCheckReply
	if err := decodeJSONObject(raw, &reply); err != nil {
		return ProgressCheckReply{}, err
	}
	return reply, nil
}

// ReplyFromSnapshot projects a status read into the reply envelope.
func ReplyFromSnapshot(snap Snapshot, found bool, at time.Time) ProgressCheckReply {
	ts := at.UTC().Format(time.RFC3339)
	if !found {
		return ProgressCheckReply{
			ClientID:  snap.ClientID,
			State:     string(StateNotFound),
			Message:   "client not found",
			Timestamp: ts,
		}
	}
	message := snap.Message
	if message == "" {
		message = "status available"
	}
	return ProgressCheckReply{
		ClientID:        snap.ClientID,
		State:           string(snap.State),
		ExpectedImages:  snap.ExpectedImages,
		StoredImages:    snap.StoredImages,
		ProgressPercent: snap.ProgressPercent(),
		Message:         message,
		ErrorCode:       snap.ErrorCode,
		Timestamp:       ts,
	}
}

// decodeJSONObject decodes one JSON value and rejects trailing tokens.
func decodeJSONObject(raw []byte, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("multiple JSON values are not allowed")
	}
	return nil
}
