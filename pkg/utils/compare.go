package utils

import (
	"github.com/nats-io/nats.go"
)

// StreamConfigEqual reports whether an existing stream matches the desired
// configuration on the properties this service manages. Subject order is
// ignored.
func StreamConfigEqual(a, b nats.StreamConfig) bool {
	return a.Name == b.Name &&
		a.Retention == b.Retention &&
		a.MaxMsgs == b.MaxMsgs &&
		a.MaxAge == b.MaxAge &&
		a.Storage == b.Storage &&
		sameSubjectSet(a.Subjects, b.Subjects)
}

// ConsumerConfigEqual reports whether an existing consumer matches the
// desired configuration. A mismatch means the consumer must be recreated.
func ConsumerConfigEqual(a, b nats.ConsumerConfig) bool {
	return a.Durable == b.Durable &&
		a.AckPolicy == b.AckPolicy &&
		a.DeliverPolicy == b.DeliverPolicy &&
		a.DeliverGroup == b.DeliverGroup &&
		a.DeliverSubject == b.DeliverSubject &&
		a.MaxDeliver == b.MaxDeliver &&
		a.AckWait == b.AckWait &&
		a.FilterSubject == b.FilterSubject &&
		sameSubjectSet(a.FilterSubjects, b.FilterSubjects)
}

func sameSubjectSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]int, len(a))
	for _, s := range a {
		seen[s]++
	}
	for _, s := range b {
		if seen[s] == 0 {
			return false
		}
		seen[s]--
	}
	return true
}
