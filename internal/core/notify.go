package core

type Event string

const (
	EventJobSubmitted    Event = "job_submitted"
	EventJobViewed       Event = "job_viewed"
	EventJobViewRejected Event = "job_view_rejected"
	EventJobReleased     Event = "job_released"
	EventJobCompleted    Event = "job_completed"
	EventJobCancelled    Event = "job_cancelled"
	EventJobDeleted      Event = "job_deleted"
)

// Events lists every event a subscriber may register for.
var Events = []Event{
	EventJobSubmitted,
	EventJobViewed,
	EventJobViewRejected,
	EventJobReleased,
	EventJobCompleted,
	EventJobCancelled,
	EventJobDeleted,
}

func IsValidEvent(name string) bool {
	for _, e := range Events {
		if string(e) == name {
			return true
		}
	}
	return false
}

// Notifier observes transitions after they commit. It must not block and
// cannot influence the outcome of the operation that produced the event.
type Notifier interface {
	JobEvent(event Event, job *Job, detail string)
}

type nopNotifier struct{}

func (nopNotifier) JobEvent(Event, *Job, string) {}
