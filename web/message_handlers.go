package web

import (
	"encoding/json"

	"github.com/rohanthewiz/rweb"
	"github.com/rohanthewiz/serr"
)

// listChatMessagesHandler returns a chat session's transcript
func listChatMessagesHandler(c rweb.Context) error {
	messages, err := database.ListChatMessages(c.Request().Param("id"))
	if err != nil {
		return c.WriteError(err, 500)
	}
	return c.WriteJSON(messages)
}

// saveChatMessageHandler appends a message to a chat session's transcript
func saveChatMessageHandler(c rweb.Context) error {
	chatSessionID := c.Request().Param("id")

	var req struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(c.Request().Body(), &req); err != nil {
		return c.WriteError(serr.Wrap(err, "invalid request body"), 400)
	}
	if req.Role == "" || req.Content == "" {
		return c.WriteError(serr.New("role and content are required"), 400)
	}

	msg, err := database.SaveChatMessage(chatSessionID, req.Role, req.Content)
	if err != nil {
		return c.WriteError(err, 500)
	}
	return c.WriteJSON(msg)
}
