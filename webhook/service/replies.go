package service

// Fixed replies sent when no model-generated text is available.
const (
	PromptForInputReply      = "Ciao 💛 Sono SMILE AI. Raccontami come ti senti oggi."
	EmptyCompletionReply     = "Sono qui con te. Vuoi raccontarmi di più?"
	CompletionFailedReply    = "Sono qui con te. In questo momento puoi prenderti un respiro lento e profondo."
	TechnicalDifficultyReply = "Mi dispiace, sto avendo qualche difficoltà tecnica. Riprova tra poco 💛"
)
