package intent

// Route labels for the two processing paths.
const (
	RouteConversation   = "conversation"
	RouteTaskOperations = "task-operations"
)

// Decision is the deterministic mapping from a classification to a
// processing path.
type Decision struct {
	Route          string  `json:"route"`
	IntentType     string  `json:"intentType"`
	TaskIdentifier string  `json:"taskIdentifier,omitempty"`
	Confidence     float64 `json:"confidence"`
}

// Route derives the processing path from a classification. The order is
// load-bearing: the confidence gate dominates the category partition, so a
// noisy low-confidence task verdict still lands on the safe conversational
// path.
func Route(c Classification) Decision {
	if c.Confidence < 0.6 {
		return Decision{
			Route:      RouteConversation,
			IntentType: "conversation",
			Confidence: c.Confidence,
		}
	}

	switch c.IntentType {
	case "conversation", "simple_task", "scheduling":
		return Decision{
			Route:      RouteConversation,
			IntentType: c.IntentType,
			Confidence: c.Confidence,
		}
	case "task_query", "task_update", "task_delete", "task_stats", "task_priority", "task_reminder":
		return Decision{
			Route:          RouteTaskOperations,
			IntentType:     c.IntentType,
			TaskIdentifier: c.TaskIdentifier,
			Confidence:     c.Confidence,
		}
	default:
		return Decision{
			Route:      RouteConversation,
			IntentType: "conversation",
			Confidence: c.Confidence,
		}
	}
}
