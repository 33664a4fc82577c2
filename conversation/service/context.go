package service

import "smile-ai/backend/conversation/models"

// BuildContext prepends the system prompt to history, leaving history's order untouched
func BuildContext(systemPrompt string, history []models.Turn) []models.Turn {
	messages := make([]models.Turn, 0, len(history)+1)
	messages = append(messages, models.Turn{Role: models.RoleSystem, Content: systemPrompt})
	return append(messages, history...)
}
