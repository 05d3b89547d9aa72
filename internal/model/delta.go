package model

// AnomalyKind names a suspicious but accepted transition.
type AnomalyKind string

const (
	AnomalyTerminalRegression AnomalyKind = "terminal_regression"
	AnomalyQuantityOverrun    AnomalyKind = "quantity_overrun"
)

// Anomaly is a flagged condition recorded on a transition.
type Anomaly struct {
	Kind   AnomalyKind `json:"kind"`
	Detail string      `json:"detail"`
}

// TransitionDelta is the difference between the state persisted before a
// transition and the state written by it.
type TransitionDelta struct {
	PreviousStatus       FeedbackStatus `json:"previousStatus,omitempty"`
	NewStatus            FeedbackStatus `json:"newStatus"`
	PreviousQualityScore *float64       `json:"previousQualityScore,omitempty"`
	NewQualityScore      *float64       `json:"newQualityScore,omitempty"`
	IsNewRecord          bool           `json:"isNewRecord"`
	Anomalies            []Anomaly      `json:"anomalies,omitempty"`
	// Changed is false when the event left every field as it was.
	Changed bool `json:"changed"`
	// SyncRelevant is true when the marketplace should see the new state.
	SyncRelevant bool `json:"syncRelevant"`
}

// StatusChanged reports whether the record moved away from a previous status.
// Explicit creates have no previous status. Records auto-created from a queue
// event carry their pending seed as the previous status.
func (d TransitionDelta) StatusChanged() bool {
	return d.PreviousStatus != "" && d.PreviousStatus != d.NewStatus
}

// QualityScoreDelta returns new-old when both scores are present.
func (d TransitionDelta) QualityScoreDelta() (float64, bool) {
	if d.PreviousQualityScore == nil || d.NewQualityScore == nil {
		return 0, false
	}
	return *d.NewQualityScore - *d.PreviousQualityScore, true
}

// HasAnomaly reports whether the delta carries an anomaly of the given kind.
func (d TransitionDelta) HasAnomaly(kind AnomalyKind) bool {
	for _, a := range d.Anomalies {
		if a.Kind == kind {
			return true
		}
	}
	return false
}

// TransitionResult is what the engine hands back to transports.
type TransitionResult struct {
	Record *FeedbackRecord `json:"feedback"`
	Delta  TransitionDelta `json:"delta"`
	// Notifications are the records persisted for this transition.
	Notifications []NotificationRecord `json:"notifications,omitempty"`
	// Applied is false when the event was ignored or changed nothing.
	Applied bool   `json:"applied"`
	Message string `json:"message,omitempty"`
}
