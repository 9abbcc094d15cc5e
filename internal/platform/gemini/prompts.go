package gemini

import "text/template"

// insightPromptTemplate asks the model for a structured relationship
// summary. The response MIME type is constrained to JSON so the output
// parses into insightSchema.
const insightPromptTemplate = `You are an assistant for a personal CRM.
Summarize the relationship with a contact from their interaction history.

Respond with a JSON object of the form:
{"summary": "<2-3 sentence relationship summary>", "topics": ["<recurring topic>", ...]}

Interaction history, oldest first:

{{.History}}`

// replyPromptTemplate asks the model for a plain-text reply draft.
const replyPromptTemplate = `You are drafting an email reply on behalf of the user.
Write a brief, warm, professional reply to the following message.
Respond with the reply text only, no preamble.

Message:

{{.Message}}`

var (
	insightPrompt = template.Must(template.New("insight").Parse(insightPromptTemplate))
	replyPrompt   = template.Must(template.New("reply").Parse(replyPromptTemplate))
)

type insightPromptData struct {
	History string
}

type replyPromptData struct {
	Message string
}

// insightSchema is the JSON structure the insight prompt constrains the
// model to produce.
type insightSchema struct {
	Summary string   `json:"summary"`
	Topics  []string `json:"topics"`
}
