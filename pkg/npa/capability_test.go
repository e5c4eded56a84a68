package npa

import "testing"

func TestInterestSetMatches(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		interest InterestSet
		event    *Event
		want     bool
	}{
		{
			name:     "kind filter matches",
			interest: InterestSet{Kinds: []EventKind{EventKindCommandReceived}},
			event:    &Event{Kind: EventKindCommandReceived, Command: &CommandInvocation{Name: "start"}},
			want:     true,
		},
		{
			name:     "kind filter rejects other kind",
			interest: InterestSet{Kinds: []EventKind{EventKindCommandReceived}},
			event:    &Event{Kind: EventKindCallbackReceived, Callback: &Callback{Data: "menu_help"}},
			want:     false,
		},
		{
			name:     "nil event never matches",
			interest: InterestSet{},
			event:    nil,
			want:     false,
		},
		{
			name: "command names are case insensitive",
			interest: InterestSet{
				Kinds:        []EventKind{EventKindCommandReceived},
				CommandNames: []string{"Start"},
			},
			event: &Event{Kind: EventKindCommandReceived, Command: &CommandInvocation{Name: "start"}},
			want:  true,
		},
		{
			name:     "command names reject missing command payload",
			interest: InterestSet{CommandNames: []string{"start"}},
			event:    &Event{Kind: EventKindCommandReceived},
			want:     false,
		},
		{
			name:     "callback prefix matches",
			interest: InterestSet{CallbackPrefixes: []string{"menu_", "sub_"}},
			event:    &Event{Kind: EventKindCallbackReceived, Callback: &Callback{Data: "sub_kedo"}},
			want:     true,
		},
		{
			name:     "callback prefix rejects other data",
			interest: InterestSet{CallbackPrefixes: []string{"menu_"}},
			event:    &Event{Kind: EventKindCallbackReceived, Callback: &Callback{Data: "archive_ep"}},
			want:     false,
		},
		{
			name:     "require callback rejects message",
			interest: InterestSet{RequireCallback: true},
			event:    &Event{Kind: EventKindMessageCreated, Message: &Message{Text: "hi"}},
			want:     false,
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			if got := testCase.interest.Matches(testCase.event); got != testCase.want {
				t.Fatalf("Matches() = %v, want %v", got, testCase.want)
			}
		})
	}
}

func TestInterestSetAllows(t *testing.T) {
	t.Parallel()

	declared := InterestSet{
		Kinds:            []EventKind{EventKindCallbackReceived},
		CallbackPrefixes: []string{"menu_", "sub_"},
	}

	tests := []struct {
		name   string
		filter InterestSet
		want   bool
	}{
		{
			name:   "identical filter is allowed",
			filter: declared,
			want:   true,
		},
		{
			name: "narrower prefix is allowed",
			filter: InterestSet{
				Kinds:            []EventKind{EventKindCallbackReceived},
				CallbackPrefixes: []string{"menu_help"},
			},
			want: true,
		},
		{
			name: "foreign prefix is rejected",
			filter: InterestSet{
				Kinds:            []EventKind{EventKindCallbackReceived},
				CallbackPrefixes: []string{"archive_"},
			},
			want: false,
		},
		{
			name: "unfiltered callbacks are rejected",
			filter: InterestSet{
				Kinds: []EventKind{EventKindCallbackReceived},
			},
			want: false,
		},
		{
			name: "foreign kind is rejected",
			filter: InterestSet{
				Kinds:            []EventKind{EventKindCommandReceived},
				CallbackPrefixes: []string{"menu_"},
			},
			want: false,
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			if got := declared.Allows(testCase.filter); got != testCase.want {
				t.Fatalf("Allows() = %v, want %v", got, testCase.want)
			}
		})
	}
}
