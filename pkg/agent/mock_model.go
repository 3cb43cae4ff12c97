package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// MockResponse MockChatClient 的单次响应
type MockResponse struct {
	Content string
	Error   error
}

// MockChatClient 按顺序返回预设响应，最后一个响应会被重复使用。用于本地演练和测试
type MockChatClient struct {
	mu        sync.Mutex
	responses []MockResponse
	index     int
	received  [][]*schema.Message
}

var _ model.ToolCallingChatModel = (*MockChatClient)(nil)

// NewMockChatClient 返回固定响应
func NewMockChatClient(content string, err error) *MockChatClient {
	return NewMockChatClientSequential([]MockResponse{{Content: content, Error: err}})
}

// NewMockChatClientSequential 按顺序返回响应
func NewMockChatClientSequential(responses []MockResponse) *MockChatClient {
	if len(responses) == 0 {
		responses = []MockResponse{{Error: errors.New("mock client has no responses configured")}}
	}
	return &MockChatClient{responses: responses}
}

func (m *MockChatClient) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	received := make([]*schema.Message, len(input))
	copy(received, input)
	m.received = append(m.received, received)

	resp := m.responses[min(m.index, len(m.responses)-1)]
	m.index++
	if resp.Error != nil {
		return nil, resp.Error
	}
	return schema.AssistantMessage(resp.Content, nil), nil
}

func (m *MockChatClient) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, fmt.Errorf("streaming not implemented in MockChatClient")
}

func (m *MockChatClient) WithTools([]*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return m, nil
}

// Calls Generate 被调用的次数
func (m *MockChatClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.received)
}

// ReceivedMessages 每次调用收到的消息
func (m *MockChatClient) ReceivedMessages() [][]*schema.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.received
}
