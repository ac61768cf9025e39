package service

import (
	"time"

	"github.com/noah-isme/college-events-api/internal/models"
	appErrors "github.com/noah-isme/college-events-api/pkg/errors"
)

// Interval is a half-open time range [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

// NewInterval validates that start is strictly before end.
func NewInterval(start, end time.Time) (Interval, error) {
	if !start.Before(end) {
		return Interval{}, appErrors.Clone(appErrors.ErrInvalidInterval, "")
	}
	return Interval{Start: start, End: end}, nil
}

// Overlaps reports whether two half-open intervals share any instant.
// Touching endpoints do not overlap.
func (i Interval) Overlaps(o Interval) bool {
	return i.Start.Before(o.End) && o.Start.Before(i.End)
}

func bookingInterval(b models.Booking) Interval {
	return Interval{Start: b.StartTime, End: b.EndTime}
}

// FindConflict returns the first booking overlapping candidate, skipping
// excludeID. It returns nil when the slot is free.
func FindConflict(candidate Interval, existing []models.Booking, excludeID string) *models.Booking {
	for idx := range existing {
		b := existing[idx]
		if excludeID != "" && b.ID == excludeID {
			continue
		}
		if candidate.Overlaps(bookingInterval(b)) {
			return &b
		}
	}
	return nil
}

// HasConflict reports whether any booking other than excludeID overlaps candidate.
func HasConflict(candidate Interval, existing []models.Booking, excludeID string) bool {
	return FindConflict(candidate, existing, excludeID) != nil
}

func conflictError(kind *appErrors.Error, dimension, message string, b *models.Booking) error {
	return appErrors.WithDetails(kind, message, models.BookingConflict{
		Dimension: dimension,
		EventID:   b.ID,
		EventName: b.Name,
		StartTime: b.StartTime,
		EndTime:   b.EndTime,
	})
}
