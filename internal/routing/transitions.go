package routing

import "cityhealth/queue-engine/internal/models"

const (
	ActionCheckin  = "checkin"
	ActionCall     = "call"
	ActionSkip     = "skip"
	ActionRecall   = "recall"
	ActionRoute    = "route"
	ActionComplete = "complete"
	ActionCancel   = "cancel"
	ActionNoShow   = "no_show"
)

var transitionMap = map[string][]string{
	ActionCall:     {models.StatusWaiting},
	ActionSkip:     {models.StatusWaiting, models.StatusInProgress},
	ActionRecall:   {models.StatusSkipped},
	ActionRoute:    {models.StatusInProgress},
	ActionComplete: {models.StatusInProgress},
	ActionCancel:   {models.StatusWaiting, models.StatusInProgress, models.StatusSkipped},
	ActionNoShow:   {models.StatusWaiting, models.StatusInProgress},
}

func ValidTransition(action, fromStatus string) bool {
	allowed, ok := transitionMap[action]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == fromStatus {
			return true
		}
	}
	return false
}
