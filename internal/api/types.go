package api

import "github.com/samcharles93/llamacore/pkg/ckpt"

type ConfigResponse struct {
	Object   string      `json:"object"`
	Config   ckpt.Config `json:"config"`
	HeadSize int         `json:"head_size"`
	KVDim    int         `json:"kv_dim"`
	Mapped   bool        `json:"mapped"`
	Sessions int         `json:"sessions"`
}

type SessionResponse struct {
	ID        string `json:"id"`
	Object    string `json:"object"`
	CreatedAt int64  `json:"created_at"`
	// Pos is the next position the session will run by default.
	Pos    int `json:"pos"`
	SeqLen int `json:"seq_len"`
}

type ForwardRequest struct {
	Token *int `json:"token"`
	// Pos defaults to the session's next position.
	Pos *int `json:"pos,omitempty"`
	// Logits can be set to false to return only the argmax.
	Logits *bool `json:"logits,omitempty"`
}

type ForwardResponse struct {
	Object string    `json:"object"`
	Pos    int       `json:"pos"`
	Argmax int       `json:"argmax"`
	Logits []float32 `json:"logits,omitempty"`
}

type DeletedResponse struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Deleted bool   `json:"deleted"`
}

type ResponseError struct {
	Message string `json:"message,omitempty"`
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Param   string `json:"param,omitempty"`
}
