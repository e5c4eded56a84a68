package npa

import "strings"

// Capability describes what a module can process and what resources it requires.
type Capability struct {
	Name             string
	Description      string
	Interest         InterestSet
	RequiredServices []string
}

// InterestSet describes event selection criteria for capability negotiation.
type InterestSet struct {
	Kinds []EventKind
	// RequireCommand restricts delivery to events carrying a command payload.
	RequireCommand bool
	// CommandNames restricts command events to the listed command names.
	CommandNames []string
	// RequireCallback restricts delivery to events carrying a callback payload.
	RequireCallback bool
	// CallbackPrefixes restricts callback events to data starting with one of the prefixes.
	CallbackPrefixes []string
}

// Matches reports whether an event satisfies the declared interest set.
func (i InterestSet) Matches(event *Event) bool {
	if event == nil {
		return false
	}
	if len(i.Kinds) > 0 && !containsKind(i.Kinds, event.Kind) {
		return false
	}
	if i.RequireCommand && event.Command == nil {
		return false
	}
	if len(i.CommandNames) > 0 {
		if event.Command == nil || !containsFold(i.CommandNames, event.Command.Name) {
			return false
		}
	}
	if i.RequireCallback && event.Callback == nil {
		return false
	}
	if len(i.CallbackPrefixes) > 0 {
		if event.Callback == nil || !hasAnyPrefix(event.Callback.Data, i.CallbackPrefixes) {
			return false
		}
	}

	return true
}

// Allows reports whether this interest set can safely satisfy another filter.
func (i InterestSet) Allows(filter InterestSet) bool {
	if len(i.Kinds) > 0 && !allKindsIncluded(filter.Kinds, i.Kinds) {
		return false
	}
	if i.RequireCommand && !filter.RequireCommand && len(filter.CommandNames) == 0 {
		return false
	}
	if len(i.CommandNames) > 0 {
		if len(filter.CommandNames) == 0 {
			return false
		}
		for _, name := range filter.CommandNames {
			if !containsFold(i.CommandNames, name) {
				return false
			}
		}
	}
	if i.RequireCallback && !filter.RequireCallback && len(filter.CallbackPrefixes) == 0 {
		return false
	}
	if len(i.CallbackPrefixes) > 0 {
		if len(filter.CallbackPrefixes) == 0 {
			return false
		}
		for _, prefix := range filter.CallbackPrefixes {
			if !hasAnyPrefix(prefix, i.CallbackPrefixes) {
				return false
			}
		}
	}

	return true
}

func containsKind(kinds []EventKind, target EventKind) bool {
	for _, candidate := range kinds {
		if candidate == target {
			return true
		}
	}

	return false
}

func allKindsIncluded(subset, allowed []EventKind) bool {
	for _, item := range subset {
		if !containsKind(allowed, item) {
			return false
		}
	}

	return true
}

func containsFold(values []string, target string) bool {
	for _, candidate := range values {
		if strings.EqualFold(strings.TrimSpace(candidate), strings.TrimSpace(target)) {
			return true
		}
	}

	return false
}

func hasAnyPrefix(value string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if strings.HasPrefix(value, prefix) {
			return true
		}
	}

	return false
}
