package model

const (
	SessionsTable = "WidgetSessions"
)

// SessionItem is one persisted key of the widget session store.
type SessionItem struct {
	PK        string `dynamodbav:"pk"`
	Value     string `dynamodbav:"value"`
	UpdatedAt string `dynamodbav:"updatedAt"`
}
