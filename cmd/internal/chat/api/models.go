package chatapi

import (
	"github.com/Marco-Polo-coding/TFG-Jose-Abreu/cmd/internal/chat"
	v1 "github.com/Marco-Polo-coding/TFG-Jose-Abreu/shared/contracts/directchat/v1"
)

type createConversationRequest struct {
	ParticipantID string `json:"participant_id"`
}

type sendMessageRequest struct {
	Content string `json:"content"`
	Type    string `json:"type"`
}

type editMessageRequest struct {
	Content string `json:"content"`
}

type lastMessageResponse struct {
	Content   string `json:"content"`
	Sender    string `json:"sender"`
	Timestamp string `json:"timestamp"`
}

type conversationResponse struct {
	ID              string               `json:"id"`
	Participants    []string             `json:"participants"`
	ParticipantsKey string               `json:"participants_key"`
	CreatedAt       string               `json:"created_at"`
	UpdatedAt       string               `json:"updated_at"`
	LastMessage     *lastMessageResponse `json:"last_message"`
}

type markReadResponse struct {
	Updated int `json:"updated"`
}

func toConversationResponse(c chat.Conversation) conversationResponse {
	participants := c.Participants
	if participants == nil {
		participants = []string{}
	}
	out := conversationResponse{
		ID:              c.ID,
		Participants:    participants,
		ParticipantsKey: c.ParticipantsKey,
		CreatedAt:       v1.FormatTimestamp(c.CreatedAt),
		UpdatedAt:       v1.FormatTimestamp(c.UpdatedAt),
	}
	if lm := c.LastMessage; lm != nil {
		out.LastMessage = &lastMessageResponse{
			Content:   lm.Content,
			Sender:    lm.Sender,
			Timestamp: v1.FormatTimestamp(lm.Timestamp),
		}
	}
	return out
}

func toConversationList(in []chat.Conversation) []conversationResponse {
	out := make([]conversationResponse, 0, len(in))
	for _, c := range in {
		out = append(out, toConversationResponse(c))
	}
	return out
}

func toMessageList(in []chat.Message) []v1.Message {
	out := make([]v1.Message, 0, len(in))
	for _, m := range in {
		out = append(out, m.Wire())
	}
	return out
}
