package domain

// ResponseType tells the requester whether a reply is terminal success or a failure.
type ResponseType string

const (
	ResponseTypeFinal ResponseType = "FINAL"
	ResponseTypeError ResponseType = "ERROR"
)

// LinkRequest asks the agent to summarize the page behind Link.
type LinkRequest struct {
	Link string `json:"link" jsonschema:"description=Give the link you want to retrieve information from"`
}

func (LinkRequest) SchemaName() string {
	return "WebsiteLink"
}

// SummaryResponse is the single reply sent for every LinkRequest.
type SummaryResponse struct {
	Message string       `json:"message"`
	Type    ResponseType `json:"type"    jsonschema:"enum=FINAL,enum=ERROR"`
}

func (SummaryResponse) SchemaName() string {
	return "AgentResponse"
}
