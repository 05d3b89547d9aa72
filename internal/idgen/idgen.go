// Package idgen produces the external identifiers of feedback and notification records.
package idgen

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	FeedbackPrefix     = "FB"
	NotificationPrefix = "NOTIF"

	randomLength = 8
)

// Generator builds identifiers of the form PREFIX-<last 8 digits of unix ms>-<8 base36 chars>.
type Generator struct {
	now func() time.Time
}

// New returns a Generator using the wall clock.
func New() *Generator {
	return &Generator{now: time.Now}
}

// NewWithClock returns a Generator with a fixed time source.
func NewWithClock(now func() time.Time) *Generator {
	return &Generator{now: now}
}

// FeedbackID returns a new FB- identifier.
func (g *Generator) FeedbackID() string {
	return g.Generate(FeedbackPrefix)
}

// NotificationID returns a new NOTIF- identifier.
func (g *Generator) NotificationID() string {
	return g.Generate(NotificationPrefix)
}

// Generate returns a new identifier with the given prefix.
func (g *Generator) Generate(prefix string) string {
	ms := strconv.FormatInt(g.now().UnixMilli(), 10)
	if len(ms) > 8 {
		ms = ms[len(ms)-8:]
	} else if len(ms) < 8 {
		ms = strings.Repeat("0", 8-len(ms)) + ms
	}
	return fmt.Sprintf("%s-%s-%s", prefix, ms, randomBase36(randomLength))
}

// randomBase36 draws the random part from a v4 UUID so it shares the uuid entropy source.
func randomBase36(n int) string {
	id := uuid.New()
	s := new(big.Int).SetBytes(id[:]).Text(36)
	if len(s) < n {
		s = strings.Repeat("0", n-len(s)) + s
	}
	return s[len(s)-n:]
}

var defaultGenerator = New()

// FeedbackID returns a new feedback identifier from the default generator.
func FeedbackID() string { return defaultGenerator.FeedbackID() }

// NotificationID returns a new notification identifier from the default generator.
func NotificationID() string { return defaultGenerator.NotificationID() }
