package fmgram

import "slices"

// Capability describes what a module handler consumes and which services it needs.
type Capability struct {
	Name             string
	Description      string
	Interest         InterestSet
	RequiredServices []string
	Metadata         map[string]string
}

// InterestSet describes event selection criteria.
type InterestSet struct {
	Kinds []EventKind
	// Sources restricts delivery to events produced by these driver instances.
	Sources         []EventSource
	RequireMessage  bool
	RequireReaction bool
	RequireCommand  bool
	// CommandNames restricts command events to these canonical command names.
	CommandNames []string
}

// Matches reports whether an event satisfies the interest set.
func (i InterestSet) Matches(event *Event) bool {
	if event == nil {
		return false
	}
	if len(i.Kinds) > 0 && !slices.Contains(i.Kinds, event.Kind) {
		return false
	}
	if len(i.Sources) > 0 && !sourceIncluded(i.Sources, event.Source) {
		return false
	}
	if i.RequireMessage && event.Message == nil {
		return false
	}
	if i.RequireReaction && event.Reaction == nil {
		return false
	}
	if i.RequireCommand && event.Command == nil {
		return false
	}
	if len(i.CommandNames) > 0 {
		if event.Command == nil || !slices.Contains(i.CommandNames, event.Command.Name) {
			return false
		}
	}

	return true
}

// Allows reports whether this interest set covers everything filter can match.
func (i InterestSet) Allows(filter InterestSet) bool {
	if len(i.Kinds) > 0 && !allIncluded(filter.Kinds, i.Kinds) {
		return false
	}
	if len(i.CommandNames) > 0 && !allIncluded(filter.CommandNames, i.CommandNames) {
		return false
	}
	if i.RequireMessage && !filter.RequireMessage {
		return false
	}
	if i.RequireReaction && !filter.RequireReaction {
		return false
	}
	if i.RequireCommand && !filter.RequireCommand {
		return false
	}

	return true
}

func sourceIncluded(sources []EventSource, source EventSource) bool {
	for _, candidate := range sources {
		if candidate.Platform != "" && candidate.Platform != source.Platform {
			continue
		}
		if candidate.ID != "" && candidate.ID != source.ID {
			continue
		}
		return true
	}

	return false
}

// allIncluded reports whether subset is non-empty and fully contained in allowed.
func allIncluded[T comparable](subset, allowed []T) bool {
	if len(subset) == 0 {
		return false
	}
	for _, item := range subset {
		if !slices.Contains(allowed, item) {
			return false
		}
	}

	return true
}
