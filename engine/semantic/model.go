package semantic

// Payload keys stored alongside each vector.
const (
	payloadContent  = "content"
	payloadCategory = "category"
	payloadQuestion = "question"
	payloadAnswer   = "answer"
)
