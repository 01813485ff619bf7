package chat

// MessageDTO 对话消息
type MessageDTO struct {
	Role    string `json:"role" example:"user"` // system, user, assistant
	Content string `json:"content" example:"What is photosynthesis?"`
}

// ChatRequest 对话请求，messages 最后一条为当前问题
type ChatRequest struct {
	Messages []MessageDTO `json:"messages"`
	UserID   string       `json:"userId,omitempty"`
}
