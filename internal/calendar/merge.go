package calendar

// Merge reconciles a caller's save against a store that may have moved on since the
// caller last synchronized.
//
// current is the authoritative document, base is what the caller last saw and
// incoming is the caller's proposal derived from base. Scalar settings the caller
// changed relative to base win; untouched ones keep current's value. Events are
// reconciled per whole event: an added or edited event overwrites current's copy,
// an event the caller deleted is removed even if someone else edited it, and events
// the caller never saw are left alone.
//
// Concurrent edits to different fields of the same event are not merged; the last
// accepted write replaces the whole event.
func Merge(current, base, incoming Document) Document {
	out := Document{
		NumDays:   pick(current.NumDays, base.NumDays, incoming.NumDays),
		StartDate: pick(current.StartDate, base.StartDate, incoming.StartDate),
		StartHour: pick(current.StartHour, base.StartHour, incoming.StartHour),
		EndHour:   pick(current.EndHour, base.EndHour, incoming.EndHour),
		ViewMode:  pick(current.ViewMode, base.ViewMode, incoming.ViewMode),
	}

	baseEvents := base.Flatten()
	incomingEvents := incoming.Flatten()
	working := current.Flatten()

	for id, ev := range incomingEvents {
		if prev, ok := baseEvents[id]; ok && prev.Equal(ev) {
			continue
		}
		working[id] = ev
	}

	for id := range baseEvents {
		if _, kept := incomingEvents[id]; !kept {
			delete(working, id)
		}
	}

	for id, ev := range working {
		working[id] = ev.Clone()
	}
	out.Events = Regroup(working)
	return out
}

func pick[T comparable](current, base, incoming T) T {
	if incoming != base {
		return incoming
	}
	return current
}
