package scheduler

import (
	"context"
	"fmt"
	"sort"
	"time"

	"kioskd/internal/domain"
	"kioskd/internal/storage"
)

type InstanceLister interface {
	ListInstances(ctx context.Context, f storage.InstanceFilter) ([]domain.TaskInstance, error)
}

// DueDetector decides whether a template needs a new instance.
//
// A template is due when it has never been spawned, or when at least
// FrequencyMinutes have passed since its most recent instance was created,
// whatever that instance's status. Frequency edits apply from the next
// check; there is no backfill.
type DueDetector struct {
	store InstanceLister
}

func NewDueDetector(store InstanceLister) DueDetector { return DueDetector{store: store} }

func (d DueDetector) IsDue(ctx context.Context, tmpl domain.TaskTemplate, now time.Time) (bool, error) {
	if !tmpl.Active || tmpl.FrequencyMinutes <= 0 {
		return false, nil
	}
	last, ok, err := d.LastSpawn(ctx, tmpl.ID)
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}
	return now.Sub(last) >= tmpl.Frequency(), nil
}

// LastSpawn returns the creation time of the template's newest instance.
func (d DueDetector) LastSpawn(ctx context.Context, templateID string) (time.Time, bool, error) {
	list, err := d.store.ListInstances(ctx, storage.InstanceFilter{
		SourceType: domain.SourceRegular,
		SourceID:   templateID,
	})
	if err != nil {
		return time.Time{}, false, fmt.Errorf("list instances of %s: %w", templateID, err)
	}
	if len(list) == 0 {
		return time.Time{}, false, nil
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	return list[0].CreatedAt, true, nil
}
