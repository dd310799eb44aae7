// Package router dispatches claimed events to the synchronizer registered for
// their (source, entity type) pair.
package router

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
	"hooksync/internal/engine/resilience"
	"hooksync/internal/platform/models"
)

// ErrUnhandled is returned for events whose pair is not in the table at all.
var ErrUnhandled = errors.New("no handler for event")

// HandlerFunc syncs one event. It owns writing the event's sync log row.
type HandlerFunc func(ctx context.Context, event *models.Event) error

type Key struct {
	Source     string
	EntityType string
}

func (k Key) String() string { return k.Source + "/" + k.EntityType }

type SyncLogWriter interface {
	Record(ctx context.Context, entry *models.SyncLogEntry) error
}

// Router is a static dispatch table. Every pair of known source and entity
// type is either handled or explicitly declared unhandled.
type Router struct {
	routes    map[Key]HandlerFunc
	unhandled map[Key]bool
	synclog   SyncLogWriter
}

func New(synclog SyncLogWriter) *Router {
	return &Router{
		routes:    map[Key]HandlerFunc{},
		unhandled: map[Key]bool{},
		synclog:   synclog,
	}
}

// Handle registers h for a pair. Registering a pair twice panics.
func (r *Router) Handle(source, entityType string, h HandlerFunc) {
	k := Key{source, entityType}
	if _, ok := r.routes[k]; ok {
		panic("router: duplicate route " + k.String())
	}
	delete(r.unhandled, k)
	r.routes[k] = h
}

// Unhandled declares that events for a pair are accepted but not synced.
func (r *Router) Unhandled(source, entityType string) {
	k := Key{source, entityType}
	if _, ok := r.routes[k]; ok {
		return
	}
	r.unhandled[k] = true
}

// Validate checks the table covers every known source and entity type.
func (r *Router) Validate() error {
	var missing []string
	for _, source := range models.Sources {
		for _, entity := range models.EntityTypes {
			k := Key{source, entity}
			if _, ok := r.routes[k]; ok {
				continue
			}
			if !r.unhandled[k] {
				missing = append(missing, k.String())
			}
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("router: no route or unhandled declaration for %s", strings.Join(missing, ", "))
	}
	return nil
}

// Routes lists registered pairs, sorted.
func (r *Router) Routes() []Key {
	keys := make([]Key, 0, len(r.routes))
	for k := range r.routes {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

// Route runs the handler for event. Declared-unhandled pairs write a skipped
// sync log row and succeed. Pairs outside the table do the same but return a
// permanent ErrUnhandled so the job is dead-lettered.
func (r *Router) Route(ctx context.Context, event *models.Event) error {
	k := Key{event.Source, event.EntityType}
	if h, ok := r.routes[k]; ok {
		return h(ctx, event)
	}

	reason := "no synchronizer for " + k.String()
	if err := r.skip(ctx, event, reason); err != nil {
		return err
	}
	if r.unhandled[k] {
		log.Debug().Str("event_id", event.ID).Str("route", k.String()).Msg("event skipped: unhandled route")
		return nil
	}
	log.Warn().Str("event_id", event.ID).Str("route", k.String()).Msg("event has no route")
	return resilience.Permanent(fmt.Errorf("%w: %s", ErrUnhandled, k))
}

func (r *Router) skip(ctx context.Context, event *models.Event, reason string) error {
	return r.synclog.Record(ctx, &models.SyncLogEntry{
		EventID:      event.ID,
		Direction:    event.Direction,
		EntityType:   event.EntityType,
		EntityID:     event.EntityID,
		SourceID:     event.EntityID,
		Status:       models.SyncSkipped,
		ErrorMessage: &reason,
	})
}
