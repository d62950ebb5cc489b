package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConnectionState_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to ConnectionState
		want     bool
	}{
		{Pending, Registered, true},
		{Pending, Active, true},
		{Pending, Rejected, true},
		{Pending, Closing, true},
		{Registered, Active, true},
		{Registered, Closing, true},
		{Active, Closing, true},
		{Closing, Unregistered, true},

		{Pending, Unregistered, false},
		{Registered, Rejected, false},
		{Registered, Pending, false},
		{Active, Registered, false},
		{Active, Unregistered, false},
		{Closing, Active, false},
		{Unregistered, Pending, false},
		{Unregistered, Registered, false},
		{Rejected, Active, false},
		{Rejected, Closing, false},
	}
	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			require.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestConnectionState_Terminal_States_Have_No_Successor(t *testing.T) {
	req := require.New(t)
	all := []ConnectionState{Pending, Registered, Active, Closing, Unregistered, Rejected}

	for _, from := range all {
		if !from.IsTerminal() {
			continue
		}
		for _, to := range all {
			req.False(from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
	req.True(Unregistered.IsTerminal())
	req.True(Rejected.IsTerminal())
	req.False(Closing.IsTerminal())
	req.False(Pending.IsTerminal())
}

func TestConnectionState_Only_Active_Accepts_Inbound(t *testing.T) {
	req := require.New(t)

	for _, s := range []ConnectionState{Pending, Registered, Closing, Unregistered, Rejected} {
		req.False(s.AcceptsInbound(), s.String())
	}
	req.True(Active.AcceptsInbound())
}

func TestConnectionState_String(t *testing.T) {
	req := require.New(t)

	req.Equal("pending", Pending.String())
	req.Equal("closing", Closing.String())
	req.Equal("rejected", Rejected.String())
	req.Equal("unknown", ConnectionState(42).String())
}
