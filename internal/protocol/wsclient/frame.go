package wsclient

import (
	"encoding/json"
	"fmt"
)

// FrameType 帧类型
type FrameType string

const (
	// 客户端 -> 服务端
	FrameAuth FrameType = "auth" // 登录
	FrameChat FrameType = "chat" // 聊天 (双向)

	// 服务端 -> 客户端
	FrameReady FrameType = "ready" // 登录成功
	FrameKick  FrameType = "kick"  // 踢出
)

// Frame 线上 JSON 帧
type Frame struct {
	Type      FrameType `json:"type"`
	Username  string    `json:"username,omitempty"`
	ProfileID string    `json:"profile_id,omitempty"`
	Token     string    `json:"token,omitempty"`
	Text      string    `json:"text,omitempty"`
	Reason    string    `json:"reason,omitempty"`
}

// Encode 编码为JSON
func (f *Frame) Encode() ([]byte, error) {
	return json.Marshal(f)
}

// DecodeFrame 从JSON解析帧
func DecodeFrame(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	if f.Type == "" {
		return nil, fmt.Errorf("decode frame: missing type")
	}
	return &f, nil
}
