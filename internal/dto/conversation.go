package dto

import "chat-widget/internal/model"

type RegisterCustomerRequest struct {
	SessionID string `json:"sessionId,omitempty"`
	Name      string `json:"name,omitempty"`
	Email     string `json:"email,omitempty"`
}

type RegisterCustomerResponse struct {
	Session string `json:"session"`
}

type ListMessagesResponse struct {
	Messages []model.Message `json:"messages"`
}

type SendMessageRequest struct {
	Message model.MessageBody `json:"message"`
}

type SendBulkMessagesRequest struct {
	Messages []model.Message `json:"messages"`
}
