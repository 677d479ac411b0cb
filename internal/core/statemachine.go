package core

// transitions lists every edge of the lifecycle graph. Nothing leads back
// to pending. Deleted is reachable from the in-flight states by expiry and
// from completed/cancelled by an owner purge.
var transitions = map[JobStatus][]JobStatus{
	JobStatusPending:   {JobStatusReleased, JobStatusCancelled, JobStatusDeleted},
	JobStatusReleased:  {JobStatusCompleted, JobStatusDeleted},
	JobStatusCompleted: {JobStatusDeleted},
	JobStatusCancelled: {JobStatusDeleted},
	JobStatusDeleted:   nil,
}

// CanTransition reports whether from -> to is an edge of the graph.
func CanTransition(from, to JobStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// SweepableStatuses are the states the expiration sweeper moves to deleted.
var SweepableStatuses = []JobStatus{JobStatusPending, JobStatusReleased}

// PurgeableStatuses are the states an owner may delete explicitly.
var PurgeableStatuses = []JobStatus{JobStatusCompleted, JobStatusCancelled}

// IsPurgeable reports whether an owner may delete a job in status s.
func IsPurgeable(s JobStatus) bool {
	for _, p := range PurgeableStatuses {
		if p == s {
			return true
		}
	}
	return false
}
