// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package types

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SpecVersion is the envelope schema version stamped on every AgentMessage.
const SpecVersion = "1.0"

// Envelope message types.
const (
	MessageTypeTaskRequest  = "task.request"
	MessageTypeTaskResponse = "task.response"
	MessageTypeTaskDone     = "task.done"
	MessageTypeTaskError    = "task.error"
	MessageTypeSystemDLQ    = "system.dlq"
)

// Metadata keys with defined semantics on the gateway path.
const (
	MetaBindingOverrides = "x-binding-overrides"
	MetaChannelType      = "channelType"
	MetaSenderID         = "senderId"
)

// AgentMessage is the gateway envelope. Data is an opaque JSON payload whose
// shape depends on Type; see the TaskRequestData and friends below.
type AgentMessage struct {
	ID             string            `json:"id"`
	SpecVersion    string            `json:"specversion"`
	Type           string            `json:"type"`
	Source         string            `json:"source"`
	Target         string            `json:"target"`
	Time           time.Time         `json:"time"`
	Data           json.RawMessage   `json:"data,omitempty"`
	CorrelationID  string            `json:"correlationId,omitempty"`
	CausationID    string            `json:"causationId,omitempty"`
	IdempotencyKey string            `json:"idempotencyKey,omitempty"`
	ReplyTo        string            `json:"replyTo,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// DedupeKey returns the key used for gateway idempotency: the explicit
// idempotency key when present, the message id otherwise.
func (m *AgentMessage) DedupeKey() string {
	if m.IdempotencyKey != "" {
		return m.IdempotencyKey
	}
	return m.ID
}

// TaskRequestData is the payload of a task.request envelope.
type TaskRequestData struct {
	Text      string `json:"text"`
	SessionID string `json:"sessionId,omitempty"`
}

// TaskResponseData wraps one AgentEvent on the reply path.
type TaskResponseData struct {
	Event AgentEvent `json:"event"`
}

// TaskErrorData carries the terminal error of a failed dispatch.
type TaskErrorData struct {
	Error string `json:"error"`
}

// AgentURI formats the canonical agent address.
func AgentURI(agentID string) string {
	return "agent://" + agentID
}

// OrchestratorURI is the address of the local orchestrator.
const OrchestratorURI = "orchestrator://local"

// NewAgentMessage builds an envelope with a fresh id and timestamp. The data
// payload is marshalled immediately so publish never fails late.
func NewAgentMessage(msgType, source, target string, data any) (*AgentMessage, error) {
	msg := &AgentMessage{
		ID:          uuid.NewString(),
		SpecVersion: SpecVersion,
		Type:        msgType,
		Source:      source,
		Target:      target,
		Time:        time.Now().UTC(),
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("marshal envelope data: %w", err)
		}
		msg.Data = raw
	}
	return msg, nil
}

// NewTaskRequest builds a task.request envelope targeting agentID.
func NewTaskRequest(source, agentID, text, sessionID string) (*AgentMessage, error) {
	return NewAgentMessage(MessageTypeTaskRequest, source, AgentURI(agentID),
		TaskRequestData{Text: text, SessionID: sessionID})
}

// NewTaskResponse wraps ev as a task.response correlated with the request.
func NewTaskResponse(source, target, correlationID string, ev AgentEvent) (*AgentMessage, error) {
	msg, err := NewAgentMessage(MessageTypeTaskResponse, source, target, TaskResponseData{Event: ev})
	if err != nil {
		return nil, err
	}
	msg.CorrelationID = correlationID
	return msg, nil
}

// NewTaskDone builds the stream-completion terminal envelope.
func NewTaskDone(source, target, correlationID string) (*AgentMessage, error) {
	msg, err := NewAgentMessage(MessageTypeTaskDone, source, target, nil)
	if err != nil {
		return nil, err
	}
	msg.CorrelationID = correlationID
	return msg, nil
}

// NewTaskError builds the failure terminal envelope.
func NewTaskError(source, target, correlationID, errText string) (*AgentMessage, error) {
	msg, err := NewAgentMessage(MessageTypeTaskError, source, target, TaskErrorData{Error: errText})
	if err != nil {
		return nil, err
	}
	msg.CorrelationID = correlationID
	return msg, nil
}

// DecodeData unmarshals the envelope payload into out.
func (m *AgentMessage) DecodeData(out any) error {
	if len(m.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(m.Data, out); err != nil {
		return fmt.Errorf("decode %s data: %w", m.Type, err)
	}
	return nil
}
