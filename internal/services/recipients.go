package services

import "github.com/CyberwizD/Distributed-Notification-System/services/intimation_notifier/internal/models"

// Recipients is the outcome of scanning the registry for one event.
type Recipients struct {
	// Tokens are the push tokens to notify, in registry order.
	Tokens []string
	// ActorName is the display name of the employee the event is about.
	ActorName string
	// Names maps every registered employee id to its display name.
	Names map[int64]string
}

// BuildRecipients selects the tokens to notify for an event raised by actorID.
//
// A token is skipped when it is empty or equal to the actor's own token. The
// comparison is on the token value, not the employee id, so any other
// record carrying the actor's token is skipped as well.
func BuildRecipients(records []models.TokenRecord, actorID int64) Recipients {
	r := Recipients{
		Names: make(map[int64]string, len(records)),
	}

	var selfToken string
	for _, rec := range records {
		r.Names[rec.EmployeeID] = rec.Name
		if rec.EmployeeID == actorID {
			selfToken = rec.Token
			r.ActorName = rec.Name
		}
	}

	for _, rec := range records {
		if rec.Token == "" || rec.Token == selfToken {
			continue
		}
		r.Tokens = append(r.Tokens, rec.Token)
	}
	return r
}
